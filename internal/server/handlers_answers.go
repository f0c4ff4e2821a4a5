package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"khyanalt/internal/aggregate"
	"khyanalt/internal/domain"
)

// handleSectionAnswers is the aggregation write endpoint. The body is
// parsed with key order preserved so the engine can keep unknown extras in
// insertion order.
func (s *Server) handleSectionAnswers(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, fmt.Errorf("%w: unreadable body", domain.ErrValidation))
		return
	}
	doc, err := aggregate.ParseDoc(body)
	if err != nil {
		writeError(w, fmt.Errorf("%w: body must be a JSON object", domain.ErrValidation))
		return
	}
	write, err := sectionWriteFrom(doc)
	if err != nil {
		writeError(w, err)
		return
	}

	insp, err := s.loadAccessible(r, write.InspectionID)
	if err != nil {
		writeError(w, err)
		return
	}

	user := userFrom(r.Context())
	res, err := s.engine.SaveSection(r.Context(), write, user)
	if err != nil {
		writeError(w, err)
		return
	}
	if res.IsCompletion {
		// Delivery happens-after the commit and never blocks the response.
		go s.notifier.NotifyCompletion(insp.ID, res.AnswerID)
	}
	writeJSON(w, http.StatusOK, "Хэсгийн хариулт хадгалагдлаа", res)
}

// sectionWriteFrom maps the ordered request document onto the engine's
// contract, validating shapes as it goes.
func sectionWriteFrom(doc *aggregate.Doc) (*aggregate.SectionWrite, error) {
	// An explicit data wrapper around the whole request is accepted.
	if inner, ok := doc.GetDoc("data"); ok && !doc.Has("answers") {
		doc = inner
	}

	write := &aggregate.SectionWrite{}

	if v, ok := doc.Get("inspectionId"); ok {
		if f, ok := v.(float64); ok {
			write.InspectionID = int64(f)
		}
	}
	if v, ok := doc.GetString("section"); ok {
		write.Section = strings.TrimSpace(v)
	}
	answers, ok := doc.GetDoc("answers")
	if !ok {
		if _, present := doc.Get("answers"); present {
			return nil, fmt.Errorf("%w: answers must be an object, not an array or scalar", domain.ErrValidation)
		}
		return nil, fmt.Errorf("%w: answers is required", domain.ErrValidation)
	}
	write.Answers = answers

	if v, ok := doc.Get("answerId"); ok {
		if f, ok := v.(float64); ok && f > 0 {
			id := int64(f)
			write.AnswerID = &id
		}
	}
	if v, ok := doc.Get("sectionIndex"); ok {
		if f, ok := v.(float64); ok && f >= 0 {
			idx := int(f)
			write.SectionIndex = &idx
		}
	}
	if v, ok := doc.Get("isFirstSection"); ok {
		if b, ok := v.(bool); ok {
			write.IsFirstSection = b
		}
	}
	if v, ok := doc.GetString("status"); ok {
		write.Status = v
	}
	if v, ok := doc.GetString("sectionStatus"); ok {
		write.SectionStatus = domain.SectionStatus(strings.ToUpper(strings.TrimSpace(v)))
	}
	if v, ok := doc.Get("progress"); ok {
		if f, ok := v.(float64); ok && f >= 0 && f <= 100 {
			p := int(f)
			write.Progress = &p
		}
	}
	return write, nil
}

// handleSignatureImage persists one signature into the aggregate under
// signatures.<role> via a signatures-section write.
func (s *Server) handleSignatureImage(w http.ResponseWriter, r *http.Request) {
	inspectionID, err := pathID(r, "inspectionID")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.loadAccessible(r, inspectionID); err != nil {
		writeError(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		writeError(w, fmt.Errorf("%w: unreadable body", domain.ErrValidation))
		return
	}
	doc, err := aggregate.ParseDoc(body)
	if err != nil {
		writeError(w, fmt.Errorf("%w: body must be a JSON object", domain.ErrValidation))
		return
	}
	image, _ := doc.GetString("signatureImage")
	role, _ := doc.GetString("signatureType")
	if image == "" {
		writeError(w, fmt.Errorf("%w: signatureImage is required", domain.ErrValidation))
		return
	}
	if role == "" {
		role = "inspector"
	}
	if !strings.HasPrefix(image, "data:image/") {
		writeError(w, fmt.Errorf("%w: signatureImage must be an image data url", domain.ErrValidation))
		return
	}

	payload := aggregate.NewDoc()
	roleMap := aggregate.NewDoc()
	roleMap.Set(role, image)
	payload.Set(domain.SectionSignatures, roleMap)

	write := &aggregate.SectionWrite{
		InspectionID: inspectionID,
		Section:      domain.SectionSignatures,
		Answers:      payload,
	}
	if v, ok := doc.Get("answerId"); ok {
		if f, ok := v.(float64); ok && f > 0 {
			id := int64(f)
			write.AnswerID = &id
		}
	}
	if v, ok := doc.GetString("status"); ok {
		write.Status = v
	}

	res, err := s.engine.SaveSection(r.Context(), write, userFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if res.IsCompletion {
		go s.notifier.NotifyCompletion(inspectionID, res.AnswerID)
	}
	writeJSON(w, http.StatusOK, "Гарын үсэг хадгалагдлаа", res)
}
