package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"khyanalt/internal/domain"
	"khyanalt/internal/logging"
)

// httpLog is shorthand for the request-handling log stream.
func httpLog() *zap.SugaredLogger { return logging.Get(logging.CategoryHTTP) }

// Pagination is the optional success-envelope companion.
type Pagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type successEnvelope struct {
	Message    string      `json:"message"`
	Data       interface{} `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type errorEnvelope struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// writeJSON emits the success envelope.
func writeJSON(w http.ResponseWriter, status int, message string, data interface{}) {
	writePaged(w, status, message, data, nil)
}

func writePaged(w http.ResponseWriter, status int, message string, data interface{}, p *Pagination) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(successEnvelope{Message: message, Data: data, Pagination: p}); err != nil {
		logging.Get(logging.CategoryHTTP).Errorf("failed to encode response: %v", err)
	}
}

// errorMapping pairs a machine-readable code with the localized message the
// end user sees. Codes stay English for programmatic handling.
type errorMapping struct {
	status  int
	code    string
	message string
}

var errorMappings = []struct {
	sentinel error
	m        errorMapping
}{
	{domain.ErrValidation, errorMapping{http.StatusBadRequest, "VALIDATION_ERROR", "Буруу эсвэл дутуу өгөгдөл байна"}},
	{domain.ErrUnauthorized, errorMapping{http.StatusUnauthorized, "UNAUTHORIZED", "Нэвтрэх эрх шаардлагатай"}},
	{domain.ErrForbidden, errorMapping{http.StatusForbidden, "FORBIDDEN", "Энэ үйлдлийг хийх эрх байхгүй"}},
	{domain.ErrNotFound, errorMapping{http.StatusNotFound, "NOT_FOUND", "Өгөгдөл олдсонгүй"}},
	{domain.ErrImageSlotTaken, errorMapping{http.StatusConflict, "IMAGE_ALREADY_EXISTS", "Энэ байрлалд зураг аль хэдийн байна"}},
	{domain.ErrInvalidMedia, errorMapping{http.StatusBadRequest, "INVALID_MEDIA", "Зөвшөөрөгдөөгүй файлын төрөл байна"}},
	{domain.ErrPayloadTooLarge, errorMapping{http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Файлын хэмжээ хэтэрсэн байна"}},
	{domain.ErrNoInspectionRecord, errorMapping{http.StatusBadRequest, "NO_INSPECTION_RECORD", "Үзлэгийн бүртгэл олдсонгүй"}},
	{domain.ErrTemplateMissing, errorMapping{http.StatusNotFound, "TEMPLATE_MISSING", "Тайлангийн загвар олдсонгүй"}},
	{domain.ErrIntegrity, errorMapping{http.StatusBadRequest, "INTEGRITY_ERROR", "Өгөгдлийн уялдаа зөрчигдсөн байна"}},
	{domain.ErrStorageUnavailable, errorMapping{http.StatusInternalServerError, "STORAGE_UNAVAILABLE", "Файлын сан түр ажиллахгүй байна"}},
}

// writeError translates engine/store errors into the failure envelope.
func writeError(w http.ResponseWriter, err error) {
	writeErrorDetails(w, err, nil)
}

func writeErrorDetails(w http.ResponseWriter, err error, details interface{}) {
	m := errorMapping{http.StatusInternalServerError, "INTERNAL_ERROR", "Дотоод алдаа гарлаа"}
	for _, em := range errorMappings {
		if errors.Is(err, em.sentinel) {
			m = em.m
			break
		}
	}
	if m.status >= http.StatusInternalServerError {
		logging.Get(logging.CategoryHTTP).Errorf("request failed: %v", err)
	} else {
		logging.Get(logging.CategoryHTTP).Debugf("request rejected: %v", err)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(m.status)
	if encErr := json.NewEncoder(w).Encode(errorEnvelope{
		Error:   m.code,
		Message: m.message,
		Details: details,
	}); encErr != nil {
		logging.Get(logging.CategoryHTTP).Errorf("failed to encode error response: %v", encErr)
	}
}
