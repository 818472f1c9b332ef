package handler

import (
	"codepair/internal/model"
	"codepair/internal/service"
	"codepair/internal/transport/rest/middleware"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// SessionHandler handles session lifecycle endpoints
type SessionHandler struct {
	sessionSvc *service.SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessionSvc *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionSvc: sessionSvc}
}

// JoinSessionRequest is the request body for joining a session
type JoinSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// SessionResponse wraps a session record
type SessionResponse struct {
	Message string         `json:"message"`
	Session *model.Session `json:"session"`
}

// VerifySessionResponse reports the caller's role on a session
type VerifySessionResponse struct {
	Message string         `json:"message"`
	Role    string         `json:"role"`
	Session *model.Session `json:"session"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// Create handles POST /session/create-session
// @Summary Create a coding session
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body service.CreateSessionInput true "Session details"
// @Success 201 {object} SessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /session/create-session [post]
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req service.CreateSessionInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.sessionSvc.CreateSession(r.Context(), caller, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, SessionResponse{
		Message: "Session created successfully",
		Session: session,
	})
}

// Join handles POST /session/join-session
// @Summary Join a session by id
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body JoinSessionRequest true "Session to join"
// @Success 200 {object} SessionResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /session/join-session [post]
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req JoinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	session, _, err := h.sessionSvc.JoinSession(r.Context(), caller, req.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		Message: "Joined session successfully",
		Session: session,
	})
}

// Verify handles GET /session/verify-session/{sessionId}
// @Summary Resolve the caller's role, enrolling them if needed
// @Tags sessions
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} VerifySessionResponse
// @Failure 404 {object} ErrorResponse
// @Router /session/verify-session/{sessionId} [get]
func (h *SessionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID := mux.Vars(r)["sessionId"]
	session, role, err := h.sessionSvc.VerifySession(r.Context(), caller, sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, VerifySessionResponse{
		Message: "Session verified",
		Role:    role,
		Session: session,
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSessionFull):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		log.Printf("session request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
