// Package handler implements the HTTP handlers of the review API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/diffpilot/diffpilot/internal/core"
	"github.com/diffpilot/diffpilot/internal/llm"
	"github.com/diffpilot/diffpilot/internal/review"
)

// ReviewHandler serves the review API endpoints.
type ReviewHandler struct {
	svc    *review.Service
	logger *slog.Logger
}

func NewReviewHandler(svc *review.Service, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{svc: svc, logger: logger}
}

type loadPRRequest struct {
	PRURL string `json:"prUrl"`
}

// LoadPR loads a pull request for review and returns its snapshot.
func (h *ReviewHandler) LoadPR(w http.ResponseWriter, r *http.Request) {
	var req loadPRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PRURL == "" {
		writeError(w, http.StatusBadRequest, core.ErrURLInvalid.Error(), "request body must be {\"prUrl\": ...}")
		return
	}

	pr, err := h.svc.LoadPR(r.Context(), req.PRURL)
	if err != nil {
		h.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

type fileResponse struct {
	OldFile *core.FileContents `json:"oldFile"`
	NewFile *core.FileContents `json:"newFile"`
}

// GetFile returns the base and head contents of one file in a review.
func (h *ReviewHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	reviewID := r.URL.Query().Get("reviewId")
	path := r.URL.Query().Get("path")
	if reviewID == "" || path == "" {
		writeError(w, http.StatusBadRequest, core.ErrValidation.Error(), "reviewId and path query parameters are required")
		return
	}

	oldFile, newFile, err := h.svc.GetFile(r.Context(), reviewID, path)
	if err != nil {
		h.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fileResponse{OldFile: oldFile, NewFile: newFile})
}

// Review runs the automated review pipeline for a loaded review.
func (h *ReviewHandler) Review(w http.ResponseWriter, r *http.Request) {
	reviewID := r.URL.Query().Get("reviewId")
	if reviewID == "" {
		writeError(w, http.StatusBadRequest, core.ErrValidation.Error(), "reviewId query parameter is required")
		return
	}

	report, err := h.svc.Review(r.Context(), reviewID)
	if err != nil {
		h.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type askRequest struct {
	ReviewID     string              `json:"reviewId"`
	Question     string              `json:"question"`
	Conversation []llm.Message       `json:"conversation"`
	Selection    *core.DiffSelection `json:"selection"`
}

// AskStream answers a question about the diff, streaming iterations and
// answer blocks as server-sent events.
func (h *ReviewHandler) AskStream(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReviewID == "" || req.Question == "" {
		writeError(w, http.StatusBadRequest, core.ErrValidation.Error(), "request body must carry reviewId and question")
		return
	}

	events, err := h.svc.Ask(r.Context(), req.ReviewID, req.Question, req.Conversation, req.Selection)
	if err != nil {
		h.writeMappedError(w, err)
		return
	}
	streamSSE(w, events, h.logger)
}

type suggestionsRequest struct {
	ReviewID     string        `json:"reviewId"`
	Conversation []llm.Message `json:"conversation"`
	LastAnswer   string        `json:"lastAnswer"`
}

type suggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

// Suggestions generates follow-up prompts for the conversation.
func (h *ReviewHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReviewID == "" {
		writeError(w, http.StatusBadRequest, core.ErrValidation.Error(), "request body must carry reviewId")
		return
	}

	suggestions, err := h.svc.Suggestions(r.Context(), req.ReviewID, req.Conversation, req.LastAnswer)
	if err != nil {
		h.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestionsResponse{Suggestions: suggestions})
}

// writeMappedError lowers the error taxonomy onto HTTP status codes. The
// stable code travels in the body; messages stay human and stackless.
func (h *ReviewHandler) writeMappedError(w http.ResponseWriter, err error) {
	code := core.ErrorCode(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrURLInvalid), errors.Is(err, core.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, core.ErrRateLimited):
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeError(w, status, code, "request failed")
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
