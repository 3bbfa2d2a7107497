package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/cheerup/internal/taskruntime"
	"github.com/ent0n29/cheerup/internal/tasks"
)

type requestTaskRequest struct {
	UserID      string `json:"user_id"`
	Description string `json:"description"`
	Duration    string `json:"duration"`
}

type chooseDurationRequest struct {
	UserID      string `json:"user_id"`
	Description string `json:"description"`
	Choice      string `json:"choice"`
}

type outcomeRequest struct {
	Description string `json:"description"`
	Answer      string `json:"answer"`
	Payload     string `json:"payload"`
}

// resultResponse carries a committed transition. Notice is set when the
// follow-up message could not be produced.
type resultResponse struct {
	taskruntime.Result
	Notice string `json:"notice,omitempty"`
}

const transientNotice = "Sorry, something went wrong while writing your message. Your task state was still updated."

func (s *Server) handleRequestTask(w http.ResponseWriter, r *http.Request) {
	var req requestTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	dir, err := s.service.RequestTask(req.UserID, req.Description, req.Duration)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dir)
}

func (s *Server) handleChooseDuration(w http.ResponseWriter, r *http.Request) {
	var req chooseDurationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	dir, err := s.service.ChooseDuration(req.UserID, req.Description, req.Choice)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dir)
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	var req taskruntime.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.service.Start(r.Context(), req)
	s.respondResult(w, http.StatusCreated, res, err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.service.Status(chi.URLParam(r, "userID")))
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	answer := taskruntime.Answer(strings.ToLower(strings.TrimSpace(req.Answer)))
	res, err := s.service.AnswerOutcome(r.Context(), chi.URLParam(r, "userID"), req.Description, answer, req.Payload)
	s.respondResult(w, http.StatusOK, res, err)
}

func (s *Server) handleFinishEarly(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.FinishEarly(r.Context(), chi.URLParam(r, "userID"))
	s.respondResult(w, http.StatusOK, res, err)
}

func (s *Server) handleRequestAbandon(w http.ResponseWriter, r *http.Request) {
	dir, err := s.service.RequestAbandon(chi.URLParam(r, "userID"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dir)
}

func (s *Server) handleConfirmAbandon(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.ConfirmAbandon(r.Context(), chi.URLParam(r, "userID"))
	s.respondResult(w, http.StatusOK, res, err)
}

func (s *Server) handleCancelAbandon(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelAbandon(chi.URLParam(r, "userID")); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "kept"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.History(r.Context(), chi.URLParam(r, "userID"), limitParam(r, 20))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := s.service.Events(chi.URLParam(r, "userID"), limitParam(r, 50))
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

// respondResult reports a lifecycle result. Collaborator failures after a
// committed transition still return the task, with a 502 and a notice.
func (s *Server) respondResult(w http.ResponseWriter, status int, res taskruntime.Result, err error) {
	if err == nil {
		respondJSON(w, status, resultResponse{Result: res})
		return
	}
	if res.Task.ID != "" && (errors.Is(err, taskruntime.ErrGeneration) || errors.Is(err, taskruntime.ErrDelivery)) {
		respondJSON(w, http.StatusBadGateway, resultResponse{Result: res, Notice: transientNotice})
		return
	}
	s.respondServiceError(w, err)
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrTaskExists):
		respondError(w, http.StatusConflict, "task_exists", err.Error())
	case errors.Is(err, tasks.ErrTaskNotFound):
		respondError(w, http.StatusNotFound, "task_not_found", err.Error())
	case errors.Is(err, tasks.ErrStaleTask):
		respondError(w, http.StatusConflict, "stale_task", err.Error())
	case errors.Is(err, tasks.ErrInvalidTaskState):
		respondError(w, http.StatusConflict, "invalid_task_state", err.Error())
	case errors.Is(err, taskruntime.ErrInvalidDuration):
		respondError(w, http.StatusBadRequest, "invalid_duration", err.Error())
	case errors.Is(err, taskruntime.ErrUnknownPersona):
		respondError(w, http.StatusNotFound, "unknown_persona", err.Error())
	case errors.Is(err, taskruntime.ErrInvalidAnswer):
		respondError(w, http.StatusBadRequest, "invalid_answer", err.Error())
	case errors.Is(err, taskruntime.ErrNoPendingAbandon):
		respondError(w, http.StatusConflict, "no_pending_abandon", err.Error())
	case errors.Is(err, taskruntime.ErrGeneration), errors.Is(err, taskruntime.ErrDelivery):
		respondError(w, http.StatusBadGateway, "collaborator_failed", transientNotice)
	default:
		s.logger.Warn("request rejected", "err", err)
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	}
}
