package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"khyanalt/internal/domain"
	"khyanalt/internal/store"
)

type testEnv struct {
	st     *store.Store
	engine *Engine
	user   *domain.User
	insp   *domain.Inspection
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	org, err := st.CreateOrganization(ctx, &domain.Organization{
		Name: "Эрдэнэт ХХК", Code: "ERD", ContactEmail: "contact@erdenet.mn",
	})
	require.NoError(t, err)
	user, err := st.CreateUser(ctx, &domain.User{
		OrganizationID: org.ID, FullName: "A. Batbold",
		Email: "batbold@erdenet.mn", Role: domain.RoleInspector,
	})
	require.NoError(t, err)
	device, err := st.CreateDevice(ctx, &domain.Device{
		OrganizationID: org.ID, SerialNo: "SC-1001", Name: "80t авто жин",
	})
	require.NoError(t, err)
	insp, err := st.CreateInspection(ctx, &domain.CreateInspectionParams{
		OrganizationID: org.ID,
		DeviceID:       device.ID,
		Title:          "Сарын үзлэг",
		Type:           domain.TypeInspection,
		ScheduleType:   domain.ScheduleScheduled,
		AssignedTo:     &user.ID,
		CreatedBy:      user.ID,
	})
	require.NoError(t, err)

	return &testEnv{st: st, engine: New(st), user: user, insp: insp}
}

// write is shorthand for a section write against the test inspection.
func (e *testEnv) write(t *testing.T, section, answersJSON string, mut func(*SectionWrite)) *Result {
	t.Helper()
	w := &SectionWrite{
		InspectionID: e.insp.ID,
		Section:      section,
		Answers:      mustDoc(t, answersJSON),
	}
	if mut != nil {
		mut(w)
	}
	res, err := e.engine.SaveSection(context.Background(), w, e.user)
	require.NoError(t, err)
	return res
}

var sectionFieldJSON = map[string]string{
	"exterior":    `{"platform_plate":{"status":"ok"},"beam":{"status":"ok"}}`,
	"indicator":   `{"display":{"status":"ok"}}`,
	"jbox":        `{"wiring":{"status":"ok"}}`,
	"sensor":      `{"load_cell":{"status":"ok"},"ball":{"status":"ok"}}`,
	"foundation":  `{"concrete":{"status":"ok"}}`,
	"cleanliness": `{"platform_clean":{"status":"ok"}}`,
}

func TestSequentialSixSectionCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := []string{"exterior", "indicator", "jbox", "sensor", "foundation", "cleanliness"}

	for i, section := range order {
		answers := sectionFieldJSON[section]
		var res *Result
		if i == 0 {
			res = env.write(t, section,
				`{"date":"2024-06-01","inspector":"A. Batbold","platform_plate":{"status":"ok"},"beam":{"status":"ok"}}`,
				func(w *SectionWrite) { w.IsFirstSection = true })
		} else if i == len(order)-1 {
			res = env.write(t, section, answers, func(w *SectionWrite) {
				w.SectionStatus = domain.SectionCompleted
			})
		} else {
			res = env.write(t, section, answers, nil)
		}

		if i < len(order)-1 {
			assert.False(t, res.IsCompletion, "section %s", section)
			assert.Equal(t, order[i+1], res.NextSection)
		} else {
			assert.True(t, res.IsCompletion)
			assert.True(t, res.IsLastSection)
			assert.Equal(t, 100, res.Progress)
		}
		assert.Equal(t, order, res.SectionOrder)
	}

	// Exactly one answer row survives the collapse.
	rows, err := env.st.ListAnswersByInspection(ctx, env.insp.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	agg, err := ParseDoc(rows[0].Answers)
	require.NoError(t, err)
	meta, ok := agg.GetDoc("metadata")
	require.True(t, ok)
	date, _ := meta.GetString("date")
	assert.Equal(t, "2024-06-01", date)
	for _, section := range order {
		assert.True(t, agg.Has(section), "missing section %s", section)
	}
	// Canonical top-level order: metadata first, sections in template order.
	assert.Equal(t, "metadata", agg.Keys()[0])
	assert.Equal(t, order, agg.Keys()[1:7])

	insp, err := env.st.GetInspection(ctx, env.insp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, insp.Status)
	assert.Equal(t, 100, insp.Progress)
	assert.NotNil(t, insp.CompletedAt)
}

func TestMetadataDateSticky(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "exterior", `{"date":"2024-06-01","platform_plate":{"status":"ok"}}`,
		func(w *SectionWrite) { w.IsFirstSection = true })
	env.write(t, "exterior", `{"date":"2024-09-09","beam":{"status":"bad"}}`,
		func(w *SectionWrite) { w.IsFirstSection = true })

	rows, err := env.st.ListAnswersByInspection(context.Background(), env.insp.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	agg, err := ParseDoc(rows[0].Answers)
	require.NoError(t, err)
	meta, _ := agg.GetDoc("metadata")
	date, _ := meta.GetString("date")
	assert.Equal(t, "2024-06-01", date)

	// The second write's field landed despite the ignored date.
	exterior, _ := agg.GetDoc("exterior")
	assert.True(t, exterior.Has("beam"))
}

func TestRemarksStringOverwrite(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "exterior", sectionFieldJSON["exterior"], nil)
	env.write(t, domain.SectionRemarks, `{"remarks_field":{"comment":"Нэмэлт тэмдэглэл"}}`, nil)

	rows, err := env.st.ListAnswersByInspection(context.Background(), env.insp.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	agg, err := ParseDoc(rows[0].Answers)
	require.NoError(t, err)

	remarks, ok := agg.GetString("remarks")
	assert.True(t, ok, "remarks must be stored as a string")
	assert.Equal(t, "Нэмэлт тэмдэглэл", remarks)
	// The wrapper key never leaks into the aggregate.
	assert.False(t, agg.Has("remarks_field"))
	exterior, _ := agg.GetDoc("exterior")
	assert.False(t, exterior.Has("remarks_field"))
}

func TestCrossCuttingSectionsNeedExistingRow(t *testing.T) {
	env := newTestEnv(t)
	w := &SectionWrite{
		InspectionID: env.insp.ID,
		Section:      domain.SectionRemarks,
		Answers:      mustDoc(t, `{"remarks":"lonely"}`),
	}
	_, err := env.engine.SaveSection(context.Background(), w, env.user)
	assert.ErrorIs(t, err, domain.ErrNoInspectionRecord)
}

func TestSignaturesDeepMerge(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "exterior", sectionFieldJSON["exterior"], nil)
	env.write(t, domain.SectionSignatures,
		`{"signatures":{"inspector":"data:image/png;base64,AA=="}}`, nil)
	env.write(t, domain.SectionSignatures,
		`{"supervisor":"data:image/png;base64,BB=="}`, nil)

	rows, err := env.st.ListAnswersByInspection(context.Background(), env.insp.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	agg, err := ParseDoc(rows[0].Answers)
	require.NoError(t, err)
	sigs, ok := agg.GetDoc("signatures")
	require.True(t, ok)
	assert.True(t, sigs.Has("inspector"))
	assert.True(t, sigs.Has("supervisor"))
}

func TestFieldOrderFollowsTemplate(t *testing.T) {
	env := newTestEnv(t)
	// Written out of declared order, with an unknown extra key.
	env.write(t, "exterior",
		`{"beam":{"status":"ok"},"extra_note":{"status":"n/a"},"platform_plate":{"status":"ok"}}`, nil)

	rows, err := env.st.ListAnswersByInspection(context.Background(), env.insp.ID)
	require.NoError(t, err)
	agg, err := ParseDoc(rows[0].Answers)
	require.NoError(t, err)
	exterior, _ := agg.GetDoc("exterior")
	// Declared fields first in template order, extras appended after.
	assert.Equal(t, []string{"platform_plate", "beam", "extra_note"}, exterior.Keys())
}

func TestAnswerIDMustBelongToInspection(t *testing.T) {
	env := newTestEnv(t)
	bogus := int64(9999)
	w := &SectionWrite{
		InspectionID: env.insp.ID,
		Section:      "exterior",
		Answers:      mustDoc(t, sectionFieldJSON["exterior"]),
		AnswerID:     &bogus,
	}
	_, err := env.engine.SaveSection(context.Background(), w, env.user)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}

func TestUnknownSectionRejected(t *testing.T) {
	env := newTestEnv(t)
	w := &SectionWrite{
		InspectionID: env.insp.ID,
		Section:      "made_up",
		Answers:      mustDoc(t, `{"f":{"status":"ok"}}`),
	}
	_, err := env.engine.SaveSection(context.Background(), w, env.user)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestProgressMonotonicAcrossWrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.write(t, "sensor", sectionFieldJSON["sensor"], nil) // index 3 of 6
	insp, err := env.st.GetInspection(ctx, env.insp.ID)
	require.NoError(t, err)
	high := insp.Progress
	assert.Equal(t, 67, high)
	assert.Equal(t, domain.StatusInProgress, insp.Status)

	env.write(t, "exterior", sectionFieldJSON["exterior"], nil) // index 0
	insp, err = env.st.GetInspection(ctx, env.insp.ID)
	require.NoError(t, err)
	assert.Equal(t, high, insp.Progress, "progress never decreases")
}

func TestLastSectionWriteWithoutCompletionStaysBelow100(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "cleanliness", sectionFieldJSON["cleanliness"], nil)

	insp, err := env.st.GetInspection(context.Background(), env.insp.ID)
	require.NoError(t, err)
	assert.Less(t, insp.Progress, 100)
	assert.Equal(t, domain.StatusInProgress, insp.Status)
}

func TestCollapseMergesTransientRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two transient rows written moments apart.
	_, err := env.st.InsertAnswer(ctx, env.insp.ID,
		[]byte(`{"metadata":{"date":"2024-06-01"},"exterior":{"beam":{"status":"ok"}}}`),
		env.user.ID, time.Now().Add(-2*time.Minute))
	require.NoError(t, err)
	_, err = env.st.InsertAnswer(ctx, env.insp.ID,
		[]byte(`{"indicator":{"display":{"status":"bad","comment":"гэмтэлтэй"}}}`),
		env.user.ID, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	res := env.write(t, "cleanliness", sectionFieldJSON["cleanliness"], func(w *SectionWrite) {
		w.Status = "submitted" // lower case on purpose; normalization applies
	})
	assert.True(t, res.IsCompletion)

	rows, err := env.st.ListAnswersByInspection(ctx, env.insp.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	agg, err := ParseDoc(rows[0].Answers)
	require.NoError(t, err)
	for _, key := range []string{"metadata", "exterior", "indicator", "cleanliness"} {
		assert.True(t, agg.Has(key), "collapsed aggregate missing %s", key)
	}
}

func TestSignaturesCompletionSignal(t *testing.T) {
	env := newTestEnv(t)
	for _, section := range []string{"exterior", "indicator", "jbox", "sensor", "foundation", "cleanliness"} {
		env.write(t, section, sectionFieldJSON[section], nil)
	}

	res := env.write(t, domain.SectionSignatures,
		`{"signatures":{"inspector":"data:image/png;base64,AA=="}}`,
		func(w *SectionWrite) { w.Status = "SUBMITTED" })
	assert.True(t, res.IsCompletion,
		"terminal signatures write after all content sections is the completion signal")
}

func TestBadStatusRejected(t *testing.T) {
	env := newTestEnv(t)
	w := &SectionWrite{
		InspectionID: env.insp.ID,
		Section:      "exterior",
		Answers:      mustDoc(t, sectionFieldJSON["exterior"]),
		Status:       "NOT_A_STATUS",
	}
	_, err := env.engine.SaveSection(context.Background(), w, env.user)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNavigationSignals(t *testing.T) {
	env := newTestEnv(t)
	res := env.write(t, "exterior", sectionFieldJSON["exterior"], nil)
	assert.Equal(t, "indicator", res.NextSection)
	assert.False(t, res.IsLastSection)
	assert.Equal(t, 17, res.Progress) // round(1/6*100)

	res = env.write(t, "foundation", sectionFieldJSON["foundation"], nil)
	assert.Equal(t, "cleanliness", res.NextSection)
	assert.Equal(t, 83, res.Progress) // round(5/6*100)
}
