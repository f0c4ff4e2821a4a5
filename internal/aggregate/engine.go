package aggregate

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"khyanalt/internal/catalogue"
	"khyanalt/internal/domain"
	"khyanalt/internal/logging"
	"khyanalt/internal/store"
)

// metadataFields are the recognized top-level keys scraped from a
// first-section write into the aggregate's metadata subdocument.
var metadataFields = []string{"date", "inspector", "location", "scale_id_serial_no", "model"}

// probeSections is the literal probe order used to locate the main answer
// row when no answerId is supplied and no row carries a data wrapper.
var probeSections = []string{"jbox", "sensor", "exterior", "indicator", "foundation", "cleanliness"}

// SectionWrite is one incremental write against an inspection's aggregate.
type SectionWrite struct {
	InspectionID   int64
	Section        string
	Answers        *Doc // parsed request payload, key order preserved
	AnswerID       *int64
	SectionIndex   *int
	IsFirstSection bool
	Status         string // target inspection status, case-insensitive
	SectionStatus  domain.SectionStatus
	Progress       *int
}

// Result carries the navigation signals returned to the writer.
type Result struct {
	AnswerID      int64                   `json:"answerId"`
	NextSection   string                  `json:"nextSection,omitempty"`
	IsLastSection bool                    `json:"isLastSection"`
	IsCompletion  bool                    `json:"isCompletion"`
	SectionOrder  []string                `json:"sectionOrder"`
	Progress      int                     `json:"progress"`
	Status        domain.InspectionStatus `json:"status"`
}

// Engine merges incremental section writes into the single aggregate,
// extracts cross-cutting fields, and drives inspection status and progress.
type Engine struct {
	store *store.Store
}

// New returns an engine over the given store.
func New(st *store.Store) *Engine {
	return &Engine{store: st}
}

// normalizeStatus upper-cases and validates the target inspection status.
// Empty is allowed (no status movement requested).
func normalizeStatus(raw string) (domain.InspectionStatus, error) {
	if raw == "" {
		return "", nil
	}
	st := domain.InspectionStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: unknown status %q", domain.ErrValidation, raw)
	}
	return st, nil
}

// validate checks the request contract.
func (w *SectionWrite) validate() error {
	if w.InspectionID == 0 {
		return fmt.Errorf("%w: inspectionId is required", domain.ErrValidation)
	}
	if w.Section == "" {
		return fmt.Errorf("%w: section is required", domain.ErrValidation)
	}
	if w.Answers == nil {
		return fmt.Errorf("%w: answers must be an object", domain.ErrValidation)
	}
	if w.SectionStatus != "" && !w.SectionStatus.IsValid() {
		return fmt.Errorf("%w: unknown section status %q", domain.ErrValidation, w.SectionStatus)
	}
	return nil
}

// SaveSection applies one section write inside a single serializable
// transaction. Access control is the caller's responsibility.
func (e *Engine) SaveSection(ctx context.Context, w *SectionWrite, writer *domain.User) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryAggregate, "SaveSection")
	defer timer.StopWithThreshold(500 * time.Millisecond)

	if err := w.validate(); err != nil {
		return nil, err
	}
	target, err := normalizeStatus(w.Status)
	if err != nil {
		return nil, err
	}

	insp, err := e.store.GetInspection(ctx, w.InspectionID)
	if err != nil {
		return nil, err
	}
	cat, err := e.catalogueFor(ctx, insp)
	if err != nil {
		return nil, err
	}

	if !domain.IsCrossCuttingSection(w.Section) {
		if _, ok := cat.Section(w.Section); !ok {
			return nil, fmt.Errorf("%w: section %q is not part of the template", domain.ErrValidation, w.Section)
		}
	}

	now := time.Now().UTC()
	isCollapse := e.isCollapse(w, target, cat)

	var res *Result
	err = e.store.WithTx(ctx, func(q *store.Store) error {
		if isCollapse {
			res, err = e.applyCompletion(ctx, q, w, insp, cat, writer, now)
		} else {
			res, err = e.applySection(ctx, q, w, insp, cat, writer, target, now)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.AggregateDebug("inspection %d section %q saved (completion=%v, progress=%d)",
		w.InspectionID, w.Section, res.IsCompletion, res.Progress)
	return res, nil
}

// catalogueFor resolves the inspection's template, falling back to the
// built-in six-section questionnaire.
func (e *Engine) catalogueFor(ctx context.Context, insp *domain.Inspection) (*catalogue.Catalogue, error) {
	if insp.TemplateID == nil {
		return catalogue.Default(), nil
	}
	tpl, err := e.store.GetTemplate(ctx, *insp.TemplateID)
	if err != nil {
		return nil, err
	}
	return catalogue.Parse(tpl.Questions)
}

// isCollapse implements the completion predicate of the collapse: the write
// targets a content section and either requests SUBMITTED or completes the
// last template section.
func (e *Engine) isCollapse(w *SectionWrite, target domain.InspectionStatus, cat *catalogue.Catalogue) bool {
	if domain.IsCrossCuttingSection(w.Section) {
		return false
	}
	if target == domain.StatusSubmitted {
		return true
	}
	return w.SectionStatus == domain.SectionCompleted && cat.IsLast(w.Section)
}

// unwrap removes the optional explicit data wrapper from a payload.
func unwrap(payload *Doc) *Doc {
	if inner, ok := payload.GetDoc("data"); ok && payload.Len() == 1 {
		return inner
	}
	return payload
}

// applySection handles a non-completion write: locate (or create) the target
// row, fold the payload in, and move inspection status/progress.
func (e *Engine) applySection(ctx context.Context, q *store.Store, w *SectionWrite,
	insp *domain.Inspection, cat *catalogue.Catalogue, writer *domain.User,
	target domain.InspectionStatus, now time.Time) (*Result, error) {

	rows, err := q.ListAnswersByInspection(ctx, w.InspectionID)
	if err != nil {
		return nil, err
	}

	row, doc, err := e.locateTarget(rows, w)
	if err != nil {
		return nil, err
	}
	if row == nil && domain.IsCrossCuttingSection(w.Section) {
		return nil, fmt.Errorf("inspection %d: %w", w.InspectionID, domain.ErrNoInspectionRecord)
	}

	if doc == nil {
		doc = NewDoc()
	}
	if err := e.fold(doc, w, cat); err != nil {
		return nil, err
	}

	serialized, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize aggregate: %w", err)
	}

	var answerID int64
	if row == nil {
		created, err := q.InsertAnswer(ctx, w.InspectionID, serialized, writer.ID, now)
		if err != nil {
			return nil, err
		}
		answerID = created.ID
	} else {
		if err := q.UpdateAnswer(ctx, row.ID, serialized, writer.ID, now); err != nil {
			return nil, err
		}
		answerID = row.ID
	}

	// Status movement: the first section write moves DRAFT to IN_PROGRESS.
	status := insp.Status
	if status == domain.StatusDraft {
		status = domain.StatusInProgress
	}
	progress := e.progressFor(w, cat)
	stored := progress
	if stored >= 100 {
		// 100 is reserved for the completion collapse.
		stored = 99
	}
	if stored < insp.Progress {
		stored = insp.Progress
	}
	if err := q.UpdateInspectionProgress(ctx, w.InspectionID, status, stored, writer.ID); err != nil {
		return nil, err
	}

	res := e.navigation(w, cat, answerID, progress)
	res.Status = status
	// The signatures section can be the true end of the questionnaire: when
	// it arrives with a terminal status and every content section has been
	// written, it is the single completion signal the notifier consumes.
	if w.Section == domain.SectionSignatures && target.IsTerminal() &&
		allContentSectionsPresent(doc, cat) {
		res.IsCompletion = true
	}
	return res, nil
}

// applyCompletion handles the completion collapse: merge every row in
// answeredAt order plus the incoming payload, reduce to a single row, and
// finalize the inspection.
func (e *Engine) applyCompletion(ctx context.Context, q *store.Store, w *SectionWrite,
	insp *domain.Inspection, cat *catalogue.Catalogue, writer *domain.User,
	now time.Time) (*Result, error) {

	rows, err := q.ListAnswersByInspection(ctx, w.InspectionID)
	if err != nil {
		return nil, err
	}

	collapsed := NewDoc()
	for _, r := range rows {
		doc, err := ParseDoc(r.Answers)
		if err != nil {
			logging.Get(logging.CategoryAggregate).Warnf(
				"inspection %d: skipping unreadable answer row %d: %v", w.InspectionID, r.ID, err)
			continue
		}
		mergeAggregate(collapsed, unwrap(doc))
	}
	if err := e.fold(collapsed, w, cat); err != nil {
		return nil, err
	}

	// Canonical top-level order: metadata, template sections, remarks,
	// signatures. Each section's fields follow template order.
	order := append([]string{"metadata"}, cat.SectionKeys()...)
	order = append(order, domain.SectionRemarks, domain.SectionSignatures)
	collapsed.Reorder(order)
	for _, key := range cat.SectionKeys() {
		if sec, ok := collapsed.GetDoc(key); ok {
			sec.Reorder(cat.FieldOrder(key))
		}
	}

	serialized, err := collapsed.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize collapsed aggregate: %w", err)
	}

	created, err := q.InsertAnswer(ctx, w.InspectionID, serialized, writer.ID, now)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	if err := q.DeleteAnswers(ctx, ids, created.ID); err != nil {
		return nil, err
	}
	if err := q.CompleteInspection(ctx, w.InspectionID, writer.ID, now); err != nil {
		return nil, err
	}

	res := e.navigation(w, cat, created.ID, 100)
	res.IsCompletion = true
	res.Status = domain.StatusSubmitted
	logging.Aggregate("inspection %d collapsed %d answer rows into row %d",
		w.InspectionID, len(rows), created.ID)
	return res, nil
}

// locateTarget implements the target-row probe. Returns the chosen row and
// its parsed document, or (nil, nil) when a content section should create a
// fresh row.
func (e *Engine) locateTarget(rows []*domain.InspectionAnswer, w *SectionWrite) (*domain.InspectionAnswer, *Doc, error) {
	parse := func(r *domain.InspectionAnswer) (*Doc, error) {
		doc, err := ParseDoc(r.Answers)
		if err != nil {
			return nil, fmt.Errorf("answer row %d unreadable: %w", r.ID, err)
		}
		return unwrap(doc), nil
	}

	if w.AnswerID != nil {
		for _, r := range rows {
			if r.ID == *w.AnswerID {
				doc, err := parse(r)
				if err != nil {
					return nil, nil, err
				}
				return r, doc, nil
			}
		}
		return nil, nil, fmt.Errorf("%w: answer %d does not belong to inspection %d",
			domain.ErrIntegrity, *w.AnswerID, w.InspectionID)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	docs := make([]*Doc, len(rows))
	for i, r := range rows {
		doc, err := parse(r)
		if err != nil {
			return nil, nil, err
		}
		docs[i] = doc
	}

	// Probe order: data wrapper, then known content sections, then
	// metadata, then any row.
	for i, r := range rows {
		raw, err := ParseDoc(r.Answers)
		if err == nil && raw.Has("data") {
			return r, docs[i], nil
		}
	}
	for i, r := range rows {
		for _, key := range probeSections {
			if docs[i].Has(key) {
				return r, docs[i], nil
			}
		}
	}
	for i, r := range rows {
		if docs[i].Has("metadata") {
			return r, docs[i], nil
		}
	}
	return rows[0], docs[0], nil
}

// fold applies one write's payload to the aggregate document according to
// the section class.
func (e *Engine) fold(doc *Doc, w *SectionWrite, cat *catalogue.Catalogue) error {
	payload := unwrap(w.Answers).Clone()

	switch w.Section {
	case domain.SectionRemarks:
		mergeRemarks(doc, extractRemarks(payload))
		return nil
	case domain.SectionSignatures:
		mergeSignatures(doc, extractSignatures(payload))
		return nil
	}

	if w.IsFirstSection {
		scrapeMetadata(doc, payload)
	}

	section, ok := doc.GetDoc(w.Section)
	if !ok {
		section = NewDoc()
		doc.Set(w.Section, section)
	}
	section.Merge(payload)
	section.Reorder(cat.FieldOrder(w.Section))
	return nil
}

// progressFor computes the writer-visible percentage
// round((currentIndex+1)/sections*100).
func (e *Engine) progressFor(w *SectionWrite, cat *catalogue.Catalogue) int {
	if w.Progress != nil {
		return *w.Progress
	}
	idx := -1
	if w.SectionIndex != nil {
		idx = *w.SectionIndex
	} else if i, ok := cat.Order(w.Section); ok {
		idx = i
	}
	if idx < 0 {
		return 0
	}
	return int(math.Round(float64(idx+1) / float64(cat.Count()) * 100))
}

// navigation assembles the writer-facing signals.
func (e *Engine) navigation(w *SectionWrite, cat *catalogue.Catalogue, answerID int64, progress int) *Result {
	return &Result{
		AnswerID:      answerID,
		NextSection:   cat.Next(w.Section),
		IsLastSection: cat.IsLast(w.Section),
		SectionOrder:  cat.SectionKeys(),
		Progress:      progress,
	}
}

// allContentSectionsPresent reports whether every template section has been
// written into the aggregate at least once.
func allContentSectionsPresent(doc *Doc, cat *catalogue.Catalogue) bool {
	for _, key := range cat.SectionKeys() {
		if !doc.Has(key) {
			return false
		}
	}
	return true
}
