package server

import (
	"fmt"
	"net/http"
)

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// handleAnswerDocx streams the rendered report for one answer row.
func (s *Server) handleAnswerDocx(w http.ResponseWriter, r *http.Request) {
	answerID, err := pathID(r, "answerID")
	if err != nil {
		writeError(w, err)
		return
	}
	answer, err := s.store.GetAnswer(r.Context(), answerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.loadAccessible(r, answer.InspectionID); err != nil {
		writeError(w, err)
		return
	}

	buf, err := s.composer.Compose(r.Context(), answerID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", docxContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="inspection_%d_report.docx"`, answer.InspectionID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf); err != nil {
		httpLog().Debugf("docx stream aborted: %v", err)
	}
}
