package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"khyanalt/internal/domain"
	"khyanalt/internal/imaging"
)

// imageView is the wire shape of one image row.
type imageView struct {
	ID         int64     `json:"id"`
	AnswerID   int64     `json:"answerId"`
	FieldID    string    `json:"fieldId"`
	Section    string    `json:"section"`
	Order      int       `json:"order"`
	ImageURL   string    `json:"imageUrl"`
	UploadedBy int64     `json:"uploadedBy"`
	CreatedAt  time.Time `json:"createdAt"`
	Base64     string    `json:"base64,omitempty"`
	MimeType   string    `json:"mimeType,omitempty"`
}

func imageViewOf(img *domain.QuestionImage) imageView {
	return imageView{
		ID: img.ID, AnswerID: img.AnswerID, FieldID: img.FieldID,
		Section: img.Section, Order: img.ImageOrder, ImageURL: img.ImageURL,
		UploadedBy: img.UploadedBy, CreatedAt: img.CreatedAt,
	}
}

// conflictDetails is the 409 payload for a taken slot.
type conflictDetails struct {
	FieldID       string     `json:"fieldId"`
	Order         int        `json:"order"`
	ExistingImage *imageView `json:"existingImage,omitempty"`
}

// answerForInspection checks the referenced answer row belongs to the
// inspection (integrity rule).
func (s *Server) answerForInspection(r *http.Request, inspectionID, answerID int64) (*domain.InspectionAnswer, error) {
	answer, err := s.store.GetAnswer(r.Context(), answerID)
	if err != nil {
		return nil, err
	}
	if answer.InspectionID != inspectionID {
		return nil, fmt.Errorf("%w: answer %d does not belong to inspection %d",
			domain.ErrIntegrity, answerID, inspectionID)
	}
	return answer, nil
}

// storeOne persists a single image (file + index row) and shapes the
// per-image outcome.
func (s *Server) storeOne(r *http.Request, inspectionID, answerID int64,
	fieldID, section, mimeType string, order int, data []byte) (*imageView, error) {

	user := userFrom(r.Context())
	name, url, err := s.files.Save(inspectionID, answerID, fieldID, order, mimeType, data)
	if err != nil {
		return nil, err
	}
	row, err := s.store.InsertImage(r.Context(), &domain.QuestionImage{
		AnswerID:   answerID,
		FieldID:    fieldID,
		Section:    section,
		ImageOrder: order,
		ImageURL:   url,
		UploadedBy: user.ID,
	})
	if err != nil {
		// The slot stayed taken: drop the just-written file so storage is
		// not mutated by a rejected upload.
		if rmErr := s.files.Remove(name); rmErr != nil {
			httpLog().Warnf("could not remove rejected upload %s: %v", name, rmErr)
		}
		return nil, err
	}
	view := imageViewOf(row)
	return &view, nil
}

type base64ImagePart struct {
	Base64   string `json:"base64"`
	MimeType string `json:"mimeType"`
	Order    int    `json:"order"`
}

type base64UploadRequest struct {
	FieldID  string            `json:"fieldId"`
	Section  string            `json:"section"`
	AnswerID int64             `json:"answerId"`
	Images   []base64ImagePart `json:"images"`
}

type uploadOutcome struct {
	Order int        `json:"order"`
	OK    bool       `json:"ok"`
	Image *imageView `json:"image,omitempty"`
	Error string     `json:"error,omitempty"`
}

// handleUploadBase64Images accepts the JSON upload transport. Partial
// failures are reported per image so the client retries only failed slots.
func (s *Server) handleUploadBase64Images(w http.ResponseWriter, r *http.Request) {
	inspectionID, err := pathID(r, "inspectionID")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.loadAccessible(r, inspectionID); err != nil {
		writeError(w, err)
		return
	}

	var req base64UploadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, int64(imaging.MaxImageBytes*imaging.MaxImageParts)*2)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}
	if req.FieldID == "" || req.Section == "" || req.AnswerID == 0 || len(req.Images) == 0 {
		writeError(w, fmt.Errorf("%w: fieldId, section, answerId and images are required", domain.ErrValidation))
		return
	}
	if len(req.Images) > imaging.MaxImageParts {
		writeError(w, fmt.Errorf("%w: at most %d images per request", domain.ErrPayloadTooLarge, imaging.MaxImageParts))
		return
	}
	if _, err := s.answerForInspection(r, inspectionID, req.AnswerID); err != nil {
		writeError(w, err)
		return
	}

	outcomes := make([]uploadOutcome, 0, len(req.Images))
	succeeded := 0
	var firstConflict *conflictDetails
	for _, part := range req.Images {
		outcome := uploadOutcome{Order: part.Order}
		data, err := imaging.DecodeBase64(part.Base64)
		if err == nil {
			outcome.Image, err = s.storeOne(r, inspectionID, req.AnswerID,
				req.FieldID, req.Section, part.MimeType, part.Order, data)
		}
		if err != nil {
			outcome.Error = err.Error()
			if errors.Is(err, domain.ErrImageSlotTaken) && firstConflict == nil {
				firstConflict = s.conflictFor(r, req.AnswerID, req.FieldID, part.Order)
			}
		} else {
			outcome.OK = true
			succeeded++
		}
		outcomes = append(outcomes, outcome)
	}

	if succeeded == 0 && firstConflict != nil {
		writeErrorDetails(w, domain.ErrImageSlotTaken, firstConflict)
		return
	}
	status := http.StatusCreated
	if succeeded == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, "Зураг хадгалагдлаа", outcomes)
}

func (s *Server) conflictFor(r *http.Request, answerID int64, fieldID string, order int) *conflictDetails {
	details := &conflictDetails{FieldID: fieldID, Order: order}
	if existing, err := s.store.GetImageBySlot(r.Context(), answerID, fieldID, order); err == nil {
		view := imageViewOf(existing)
		details.ExistingImage = &view
	}
	return details
}

// handleUploadMultipartImages accepts the multipart upload transport. Both
// transports funnel into the same slot-uniqueness path.
func (s *Server) handleUploadMultipartImages(w http.ResponseWriter, r *http.Request) {
	inspectionID, err := pathID(r, "inspectionID")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.loadAccessible(r, inspectionID); err != nil {
		writeError(w, err)
		return
	}

	if err := r.ParseMultipartForm(int64(imaging.MaxImageBytes)); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrPayloadTooLarge, err))
		return
	}
	answerID, err := formInt64(r, "answerId")
	if err != nil {
		writeError(w, err)
		return
	}
	fieldID := r.FormValue("fieldId")
	section := r.FormValue("section")
	if fieldID == "" || section == "" {
		writeError(w, fmt.Errorf("%w: fieldId and section are required", domain.ErrValidation))
		return
	}
	if _, err := s.answerForInspection(r, inspectionID, answerID); err != nil {
		writeError(w, err)
		return
	}

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		writeError(w, fmt.Errorf("%w: at least one image part is required", domain.ErrValidation))
		return
	}
	if len(files) > imaging.MaxImageParts {
		writeError(w, fmt.Errorf("%w: at most %d parts per request", domain.ErrPayloadTooLarge, imaging.MaxImageParts))
		return
	}
	startOrder := 1
	if v, err := formInt64(r, "order"); err == nil && v >= 1 {
		startOrder = int(v)
	}

	outcomes := make([]uploadOutcome, 0, len(files))
	succeeded := 0
	var firstConflict *conflictDetails
	for i, fh := range files {
		order := startOrder + i
		outcome := uploadOutcome{Order: order}

		data, mimeType, err := readPart(fh)
		if err == nil {
			outcome.Image, err = s.storeOne(r, inspectionID, answerID, fieldID, section, mimeType, order, data)
		}
		if err != nil {
			outcome.Error = err.Error()
			if errors.Is(err, domain.ErrImageSlotTaken) && firstConflict == nil {
				firstConflict = s.conflictFor(r, answerID, fieldID, order)
			}
		} else {
			outcome.OK = true
			succeeded++
		}
		outcomes = append(outcomes, outcome)
	}

	if succeeded == 0 && firstConflict != nil {
		writeErrorDetails(w, domain.ErrImageSlotTaken, firstConflict)
		return
	}
	status := http.StatusCreated
	if succeeded == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, "Зураг хадгалагдлаа", outcomes)
}

func formInt64(r *http.Request, name string) (int64, error) {
	var v int64
	if _, err := fmt.Sscanf(r.FormValue(name), "%d", &v); err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: bad %s", domain.ErrValidation, name)
	}
	return v, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, string, error) {
	if fh.Size > int64(imaging.MaxImageBytes) {
		return nil, "", fmt.Errorf("%w: part is %d bytes", domain.ErrPayloadTooLarge, fh.Size)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, int64(imaging.MaxImageBytes)+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if len(data) > imaging.MaxImageBytes {
		return nil, "", fmt.Errorf("%w: part exceeds limit", domain.ErrPayloadTooLarge)
	}
	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(fh.Filename))
	}
	return data, mimeType, nil
}

// handleListQuestionImages returns the inspection's images with base64
// payloads, optionally filtered by fieldId and section.
func (s *Server) handleListQuestionImages(w http.ResponseWriter, r *http.Request) {
	inspectionID, err := pathID(r, "inspectionID")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.loadAccessible(r, inspectionID); err != nil {
		writeError(w, err)
		return
	}

	rows, err := s.store.ListImagesByInspection(r.Context(), inspectionID)
	if err != nil {
		writeError(w, err)
		return
	}
	fieldFilter := r.URL.Query().Get("fieldId")
	sectionFilter := r.URL.Query().Get("section")

	views := make([]imageView, 0, len(rows))
	for _, row := range rows {
		if fieldFilter != "" && row.FieldID != fieldFilter {
			continue
		}
		if sectionFilter != "" && row.Section != sectionFilter {
			continue
		}
		view := imageViewOf(row)
		s.attachPayload(&view)
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, "OK", views)
}

// handleImageGallery groups the inspection's images by section.
func (s *Server) handleImageGallery(w http.ResponseWriter, r *http.Request) {
	inspectionID, err := pathID(r, "inspectionID")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.loadAccessible(r, inspectionID); err != nil {
		writeError(w, err)
		return
	}
	includeData := r.URL.Query().Get("includeData") == "true"

	rows, err := s.store.ListImagesByInspection(r.Context(), inspectionID)
	if err != nil {
		writeError(w, err)
		return
	}
	gallery := map[string][]imageView{}
	for _, row := range rows {
		view := imageViewOf(row)
		if includeData {
			s.attachPayload(&view)
		}
		gallery[row.Section] = append(gallery[row.Section], view)
	}
	writeJSON(w, http.StatusOK, "OK", gallery)
}

// attachPayload inlines the stored bytes as base64; unreadable files just
// omit the payload.
func (s *Server) attachPayload(view *imageView) {
	name := s.files.FilenameFromURL(view.ImageURL)
	data, err := s.files.Read(name)
	if err != nil {
		httpLog().Debugf("could not read %s: %v", name, err)
		return
	}
	view.Base64 = base64.StdEncoding.EncodeToString(data)
	view.MimeType = mime.TypeByExtension(filepath.Ext(name))
}
