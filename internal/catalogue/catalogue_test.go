package catalogue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"khyanalt/internal/domain"
)

const miniQuestions = `[
  {"section": "exterior", "title": "Гадна үзлэг", "fields": [
    {"id": "platform_plate", "question": "Тавцан", "type": "status", "image_required": true},
    {"id": "beam", "question": "Дам нуруу", "type": "status"}
  ]},
  {"section": "sensor", "title": "Мэдрэгч", "fields": [
    {"id": "load_cell", "question": "Мэдрэгч", "type": "status"}
  ]}
]`

func TestParseOrderAndNavigation(t *testing.T) {
	cat, err := Parse([]byte(miniQuestions))
	require.NoError(t, err)

	assert.Equal(t, 2, cat.Count())
	assert.Equal(t, []string{"exterior", "sensor"}, cat.SectionKeys())

	order, ok := cat.Order("sensor")
	require.True(t, ok)
	assert.Equal(t, 1, order)

	assert.Equal(t, "sensor", cat.Next("exterior"))
	assert.Equal(t, "", cat.Next("sensor"))
	assert.False(t, cat.IsLast("exterior"))
	assert.True(t, cat.IsLast("sensor"))

	assert.Equal(t, []string{"platform_plate", "beam"}, cat.FieldOrder("exterior"))
	assert.Nil(t, cat.FieldOrder("nope"))

	section, ok := cat.Section("exterior")
	require.True(t, ok)
	assert.Equal(t, "Гадна үзлэг", section.Title)
	assert.True(t, section.Fields[0].ImageRequired)
}

func TestParseRejectsBadTemplates(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"empty", `[]`},
		{"missing key", `[{"title":"x","fields":[]}]`},
		{"reserved remarks", `[{"section":"remarks","fields":[]}]`},
		{"reserved signatures", `[{"section":"signatures","fields":[]}]`},
		{"duplicate", `[{"section":"a","fields":[]},{"section":"a","fields":[]}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestDefaultCatalogue(t *testing.T) {
	cat := Default()
	assert.Equal(t,
		[]string{"exterior", "indicator", "jbox", "sensor", "foundation", "cleanliness"},
		cat.SectionKeys())
	for _, key := range cat.SectionKeys() {
		assert.False(t, domain.IsCrossCuttingSection(key))
		assert.NotEmpty(t, cat.FieldOrder(key))
	}
}
