package handler

import (
	"bytes"
	"codepair/internal/cache"
	"codepair/internal/model"
	"codepair/internal/repository/repotest"
	"codepair/internal/service"
	"codepair/internal/transport/rest/middleware"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = model.Identity{UserID: "user-a", Username: "alice"}
	bob   = model.Identity{UserID: "user-b", Username: "bob"}
)

func newTestHandler(t *testing.T) (*mux.Router, *repotest.SessionRepo) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	repo := repotest.NewSessionRepo()
	now := time.Now()
	repo.Put(&model.Session{
		SessionID:          "abc123",
		Title:              "Two Sum",
		Creator:            alice.UserID,
		Status:             model.SessionActive,
		StartedAt:          now,
		Participants:       []model.Participant{model.NewOwner(alice.UserID, alice.Username, now)},
		CollaborationState: model.CollaborationState{IsActive: true, MaxParticipants: 2},
	})
	repo.Put(&model.Session{SessionID: "done01", Creator: alice.UserID, Status: model.SessionCompleted})

	h := NewSessionHandler(service.NewSessionService(repo, cache.NewSessionCache(rdb, time.Minute)))

	r := mux.NewRouter()
	r.HandleFunc("/session/create-session", h.Create).Methods("POST")
	r.HandleFunc("/session/join-session", h.Join).Methods("POST")
	r.HandleFunc("/session/verify-session/{sessionId}", h.Verify).Methods("GET")
	return r, repo
}

func do(r http.Handler, method, path string, caller *model.Identity, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != nil {
		req = req.WithContext(middleware.WithIdentity(req.Context(), *caller))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateSession(t *testing.T) {
	r, repo := newTestHandler(t)

	w := do(r, http.MethodPost, "/session/create-session", &alice, map[string]interface{}{
		"title":      "Two Sum",
		"language":   "python",
		"difficulty": "medium",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Session)
	assert.Len(t, resp.Session.SessionID, 8)
	assert.Equal(t, "python", resp.Session.CodeState.Language)
	assert.Equal(t, 1, resp.Session.CodeState.Version)
	require.Len(t, resp.Session.Participants, 1)
	assert.Equal(t, model.RoleOwner, resp.Session.Participants[0].Role)

	assert.NotNil(t, repo.Get(resp.Session.SessionID))
}

func TestCreateSessionCreatesDistinctSessions(t *testing.T) {
	r, _ := newTestHandler(t)

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		w := do(r, http.MethodPost, "/session/create-session", &alice, map[string]string{"title": "Practice"})
		require.Equal(t, http.StatusCreated, w.Code)
		var resp SessionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		ids[resp.Session.SessionID] = true
	}
	assert.Len(t, ids, 3)
}

func TestCreateSessionValidation(t *testing.T) {
	r, _ := newTestHandler(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing title", map[string]interface{}{"language": "go"}},
		{"bad difficulty", map[string]interface{}{"title": "x", "difficulty": "extreme"}},
		{"bad language", map[string]interface{}{"title": "x", "language": "brainfuck"}},
		{"too many participants", map[string]interface{}{"title": "x", "maxParticipants": 11}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/session/create-session", &alice, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/session/create-session", bytes.NewBufferString("{"))
	req = req.WithContext(middleware.WithIdentity(req.Context(), alice))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSessionRequiresIdentity(t *testing.T) {
	r, _ := newTestHandler(t)

	w := do(r, http.MethodPost, "/session/create-session", nil, map[string]string{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateSessionStoreFailure(t *testing.T) {
	r, repo := newTestHandler(t)
	repo.SetErr(repotest.ErrStoreDown)

	w := do(r, http.MethodPost, "/session/create-session", &alice, map[string]string{"title": "x"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestJoinSessionIsIdempotent(t *testing.T) {
	r, repo := newTestHandler(t)

	for i := 0; i < 2; i++ {
		w := do(r, http.MethodPost, "/session/join-session", &bob, JoinSessionRequest{SessionID: "abc123"})
		require.Equal(t, http.StatusOK, w.Code)

		var resp SessionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Session.Participants, 2)
	}
	assert.Len(t, repo.Get("abc123").Participants, 2)
}

func TestJoinSessionErrors(t *testing.T) {
	r, _ := newTestHandler(t)

	w := do(r, http.MethodPost, "/session/join-session", &bob, JoinSessionRequest{SessionID: "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/session/join-session", &bob, JoinSessionRequest{SessionID: "done01"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/session/join-session", &bob, JoinSessionRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// cap is 2: alice and bob
	carol := model.Identity{UserID: "user-c"}
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/session/join-session", &bob, JoinSessionRequest{SessionID: "abc123"}).Code)
	w = do(r, http.MethodPost, "/session/join-session", &carol, JoinSessionRequest{SessionID: "abc123"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestVerifySessionRoles(t *testing.T) {
	r, repo := newTestHandler(t)

	w := do(r, http.MethodGet, "/session/verify-session/abc123", &alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp VerifySessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, service.RoleCreator, resp.Role)

	w = do(r, http.MethodGet, "/session/verify-session/abc123", &bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, service.RoleParticipant, resp.Role)
	assert.True(t, resp.Session.HasParticipant(bob.UserID))

	p, ok := repo.Get("abc123").Participant(bob.UserID)
	require.True(t, ok)
	assert.Equal(t, model.RoleCollaborator, p.Role)
	assert.True(t, p.Permissions.CanEdit)
	assert.False(t, p.Permissions.CanDelete)
}

func TestVerifySessionNotFound(t *testing.T) {
	r, _ := newTestHandler(t)

	w := do(r, http.MethodGet, "/session/verify-session/done01", &bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, service.ErrSessionNotFound.Error(), body["error"])
}
