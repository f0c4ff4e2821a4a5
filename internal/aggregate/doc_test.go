package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocRoundTripPreservesOrder(t *testing.T) {
	raw := `{"zeta":1,"alpha":{"b":2,"a":3},"mid":[1,{"y":true,"x":false}]}`
	doc, err := ParseDoc([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, doc.Keys())

	nested, ok := doc.GetDoc("alpha")
	require.True(t, ok)
	assert.Equal(t, []string{"b", "a"}, nested.Keys())

	out, err := doc.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))

	// Byte-level order check: marshal must not alphabetize.
	assert.Equal(t, `{"zeta":1,"alpha":{"b":2,"a":3},"mid":[1,{"y":true,"x":false}]}`, string(out))
}

func TestDocRejectsNonObject(t *testing.T) {
	_, err := ParseDoc([]byte(`[1,2,3]`))
	assert.Error(t, err)
	_, err = ParseDoc([]byte(`"scalar"`))
	assert.Error(t, err)
}

func TestDocSetDeleteReorder(t *testing.T) {
	doc := NewDoc()
	doc.Set("c", 1)
	doc.Set("a", 2)
	doc.Set("b", 3)
	doc.Set("a", 4) // overwrite keeps position

	assert.Equal(t, []string{"c", "a", "b"}, doc.Keys())
	v, _ := doc.Get("a")
	assert.Equal(t, 4, v)

	doc.Delete("a")
	assert.Equal(t, []string{"c", "b"}, doc.Keys())
	assert.False(t, doc.Has("a"))

	doc.Set("x", 5)
	doc.Reorder([]string{"b", "missing", "x"})
	assert.Equal(t, []string{"b", "x", "c"}, doc.Keys())
}

func TestDocMergeRules(t *testing.T) {
	t.Run("scalars and arrays replace", func(t *testing.T) {
		older, err := ParseDoc([]byte(`{"a":"old","list":[1,2]}`))
		require.NoError(t, err)
		newer, err := ParseDoc([]byte(`{"a":"new","list":[3]}`))
		require.NoError(t, err)

		older.Merge(newer)
		s, _ := older.GetString("a")
		assert.Equal(t, "new", s)
		list, _ := older.Get("list")
		assert.Equal(t, []interface{}{float64(3)}, list)
	})

	t.Run("nested objects merge key-wise", func(t *testing.T) {
		older, err := ParseDoc([]byte(`{"sec":{"f1":{"status":"ok"},"f2":{"status":"bad"}}}`))
		require.NoError(t, err)
		newer, err := ParseDoc([]byte(`{"sec":{"f2":{"comment":"fixed"}}}`))
		require.NoError(t, err)

		older.Merge(newer)
		sec, _ := older.GetDoc("sec")
		f2, _ := sec.GetDoc("f2")
		status, _ := f2.GetString("status")
		comment, _ := f2.GetString("comment")
		assert.Equal(t, "bad", status)
		assert.Equal(t, "fixed", comment)
	})

	t.Run("type mismatch newest wins", func(t *testing.T) {
		older, err := ParseDoc([]byte(`{"v":{"deep":true}}`))
		require.NoError(t, err)
		newer, err := ParseDoc([]byte(`{"v":"flat"}`))
		require.NoError(t, err)

		older.Merge(newer)
		s, ok := older.GetString("v")
		assert.True(t, ok)
		assert.Equal(t, "flat", s)
	})
}

func TestDocCloneIsDeep(t *testing.T) {
	doc, err := ParseDoc([]byte(`{"sec":{"f":{"status":"ok"}}}`))
	require.NoError(t, err)

	clone := doc.Clone()
	sec, _ := clone.GetDoc("sec")
	f, _ := sec.GetDoc("f")
	f.Set("status", "changed")

	origSec, _ := doc.GetDoc("sec")
	origF, _ := origSec.GetDoc("f")
	status, _ := origF.GetString("status")
	assert.Equal(t, "ok", status)
}

func TestDocToMap(t *testing.T) {
	doc, err := ParseDoc([]byte(`{"a":{"b":[{"c":1}]},"d":"x"}`))
	require.NoError(t, err)
	m := doc.ToMap()
	inner := m["a"].(map[string]interface{})
	arr := inner["b"].([]interface{})
	first := arr[0].(map[string]interface{})
	assert.Equal(t, float64(1), first["c"])
	assert.Equal(t, "x", m["d"])
}
