package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"khyanalt/internal/domain"
	"khyanalt/internal/logging"
)

// inspectionView is the wire shape of an inspection.
type inspectionView struct {
	ID             int64                   `json:"id"`
	OrganizationID int64                   `json:"organizationId"`
	DeviceID       int64                   `json:"deviceId"`
	SiteID         *int64                  `json:"siteId,omitempty"`
	ContractID     *int64                  `json:"contractId,omitempty"`
	TemplateID     *int64                  `json:"templateId,omitempty"`
	Title          string                  `json:"title"`
	Type           domain.InspectionType   `json:"type"`
	ScheduleType   domain.ScheduleType     `json:"scheduleType"`
	Status         domain.InspectionStatus `json:"status"`
	Progress       int                     `json:"progress"`
	AssignedTo     *int64                  `json:"assignedTo,omitempty"`
	CreatedBy      int64                   `json:"createdBy"`
	ScheduledAt    *time.Time              `json:"scheduledAt,omitempty"`
	CompletedAt    *time.Time              `json:"completedAt,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
	UpdatedAt      time.Time               `json:"updatedAt"`
}

func viewOf(i *domain.Inspection) inspectionView {
	return inspectionView{
		ID: i.ID, OrganizationID: i.OrganizationID, DeviceID: i.DeviceID,
		SiteID: i.SiteID, ContractID: i.ContractID, TemplateID: i.TemplateID,
		Title: i.Title, Type: i.Type, ScheduleType: i.ScheduleType,
		Status: i.Status, Progress: i.Progress, AssignedTo: i.AssignedTo,
		CreatedBy: i.CreatedBy, ScheduledAt: i.ScheduledAt, CompletedAt: i.CompletedAt,
		CreatedAt: i.CreatedAt, UpdatedAt: i.UpdatedAt,
	}
}

// pathID extracts a numeric path parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad %s %q", domain.ErrValidation, name, raw)
	}
	return id, nil
}

// loadAccessible loads an inspection and enforces the access rule.
func (s *Server) loadAccessible(r *http.Request, id int64) (*domain.Inspection, error) {
	insp, err := s.store.GetInspection(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !insp.AccessibleBy(userFrom(r.Context())) {
		return nil, fmt.Errorf("inspection %d: %w", id, domain.ErrForbidden)
	}
	return insp, nil
}

type createInspectionRequest struct {
	DeviceID     int64                 `json:"deviceId"`
	SiteID       *int64                `json:"siteId"`
	ContractID   *int64                `json:"contractId"`
	TemplateID   *int64                `json:"templateId"`
	Title        string                `json:"title"`
	Type         domain.InspectionType `json:"type"`
	ScheduleType domain.ScheduleType   `json:"scheduleType"`
	AssignedTo   *int64                `json:"assignedTo"`
	ScheduledAt  *time.Time            `json:"scheduledAt"`
}

func (s *Server) handleCreateInspection(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	var req createInspectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}
	insp, err := s.store.CreateInspection(r.Context(), &domain.CreateInspectionParams{
		OrganizationID: user.OrganizationID,
		DeviceID:       req.DeviceID,
		SiteID:         req.SiteID,
		ContractID:     req.ContractID,
		TemplateID:     req.TemplateID,
		Title:          req.Title,
		Type:           req.Type,
		ScheduleType:   req.ScheduleType,
		AssignedTo:     req.AssignedTo,
		CreatedBy:      user.ID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if req.AssignedTo != nil {
		go s.notifier.NotifyAssignment(insp.ID, *req.AssignedTo)
	}
	writeJSON(w, http.StatusCreated, "Үзлэг үүслээ", viewOf(insp))
}

func (s *Server) handleGetInspection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "inspectionID")
	if err != nil {
		writeError(w, err)
		return
	}
	insp, err := s.loadAccessible(r, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "OK", viewOf(insp))
}

func (s *Server) handleListInspections(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	limit, offset := 20, 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	items, total, err := s.store.ListInspectionsByOrganization(r.Context(), user.OrganizationID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]inspectionView, len(items))
	for i, insp := range items {
		views[i] = viewOf(insp)
	}
	writePaged(w, http.StatusOK, "OK", views, &Pagination{Total: total, Limit: limit, Offset: offset})
}

// handleListByScheduleType serves the inspector client's worklist: keyed on
// the assignee only, so cross-organization assignments surface.
func (s *Server) handleListByScheduleType(w http.ResponseWriter, r *http.Request) {
	raw := strings.ToUpper(chi.URLParam(r, "scheduleType"))
	st := domain.ScheduleType(raw)
	if !st.IsValid() {
		writeError(w, fmt.Errorf("%w: unknown schedule type %q", domain.ErrValidation, raw))
		return
	}
	user := userFrom(r.Context())
	items, err := s.store.ListInspectionsByScheduleType(r.Context(), user.ID, st)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]inspectionView, len(items))
	for i, insp := range items {
		views[i] = viewOf(insp)
	}
	writeJSON(w, http.StatusOK, "OK", views)
}

type assignRequest struct {
	UserID int64 `json:"userId"`
}

func (s *Server) handleAssignInspection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "inspectionID")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.loadAccessible(r, id); err != nil {
		writeError(w, err)
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		writeError(w, fmt.Errorf("%w: userId is required", domain.ErrValidation))
		return
	}
	if _, err := s.store.GetUser(r.Context(), req.UserID); err != nil {
		writeError(w, err)
		return
	}
	user := userFrom(r.Context())
	if err := s.store.AssignInspection(r.Context(), id, req.UserID, user.ID); err != nil {
		writeError(w, err)
		return
	}
	go s.notifier.NotifyAssignment(id, req.UserID)

	insp, err := s.store.GetInspection(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "Үзлэг хуваарилагдлаа", viewOf(insp))
}

func (s *Server) handleDeleteInspection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "inspectionID")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.loadAccessible(r, id); err != nil {
		writeError(w, err)
		return
	}

	// Capture filenames before the rows go; file removal is best effort.
	images, err := s.store.ListImagesByInspection(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteInspection(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	for _, img := range images {
		if err := s.files.Remove(s.files.FilenameFromURL(img.ImageURL)); err != nil {
			logging.Images("could not remove %s: %v", img.ImageURL, err)
		}
	}
	writeJSON(w, http.StatusOK, "Үзлэг устгагдлаа", map[string]interface{}{
		"id": id, "deletedImages": len(images),
	})
}
