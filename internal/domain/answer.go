package domain

import "time"

// SectionStatus is the writer-declared state of a single section write.
type SectionStatus string

const (
	SectionInProgress SectionStatus = "IN_PROGRESS"
	SectionCompleted  SectionStatus = "COMPLETED"
	SectionSkipped    SectionStatus = "SKIPPED"
)

// IsValid returns true if the section status is a recognized value.
func (s SectionStatus) IsValid() bool {
	switch s {
	case SectionInProgress, SectionCompleted, SectionSkipped:
		return true
	}
	return false
}

// InspectionAnswer is a persisted answer row. During intermediate writes
// several rows may exist for one inspection; on completion the engine
// collapses them to exactly one. Answers holds the serialized ordered
// aggregate document.
type InspectionAnswer struct {
	ID           int64
	InspectionID int64
	Answers      []byte // JSON: the aggregate document, key order preserved
	AnsweredBy   int64
	AnsweredAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// QuestionImage is one uploaded photograph bound to a field slot. The
// (AnswerID, FieldID, ImageOrder) triple is unique; a second upload at the
// same slot is rejected until the prior image is deleted.
type QuestionImage struct {
	ID         int64
	AnswerID   int64
	FieldID    string
	Section    string
	ImageOrder int // 1-based slot within the field
	ImageURL   string
	UploadedBy int64
	CreatedAt  time.Time
}
