package repository

import (
	"codepair/internal/model"
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Runs against a real server when MONGO_TEST_URI is set, e.g. mongodb://localhost:27017
func newMongoRepo(t *testing.T) SessionRepo {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	db := client.Database("codepair_test_" + uuid.New().String()[:8])
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		db.Drop(ctx)
		client.Disconnect(ctx)
	})

	repo := NewSessionRepo(db)
	require.NoError(t, repo.EnsureIndexes(ctx))
	return repo
}

func newSession(id string, maxParticipants int) *model.Session {
	now := time.Now().Add(-30 * time.Minute)
	return &model.Session{
		SessionID:          id,
		Title:              "Two Sum",
		Creator:            "user-a",
		Status:             model.SessionActive,
		StartedAt:          now,
		CodeState:          model.CodeState{Language: "javascript", Code: "v1", Version: 1},
		CodeHistory:        []model.CodeRevision{},
		Participants:       []model.Participant{model.NewOwner("user-a", "alice", now)},
		Cursors:            []model.Cursor{},
		Chat:               []model.ChatMessage{},
		CollaborationState: model.CollaborationState{IsActive: true, MaxParticipants: maxParticipants},
	}
}

func TestMongoCreateDuplicate(t *testing.T) {
	repo := newMongoRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("abc123", 4)))
	assert.ErrorIs(t, repo.Create(ctx, newSession("abc123", 4)), ErrDuplicateSessionID)

	got, err := repo.GetActive(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Two Sum", got.Title)

	got, err = repo.GetActive(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMongoParticipants(t *testing.T) {
	repo := newMongoRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newSession("abc123", 2)))

	bob := model.NewCollaborator("user-b", "bob", time.Now())
	added, err := repo.AddParticipant(ctx, "abc123", bob, 2)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = repo.AddParticipant(ctx, "abc123", bob, 2)
	require.NoError(t, err)
	assert.False(t, added, "duplicate row")

	added, err = repo.AddParticipant(ctx, "abc123", model.NewCollaborator("user-c", "carol", time.Now()), 2)
	require.NoError(t, err)
	assert.False(t, added, "cap reached")

	removed, err := repo.RemoveParticipant(ctx, "abc123", "user-a")
	require.NoError(t, err)
	assert.False(t, removed, "owner row is kept")

	removed, err = repo.RemoveParticipant(ctx, "abc123", "user-b")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.RemoveParticipant(ctx, "abc123", "user-b")
	require.NoError(t, err)
	assert.False(t, removed, "already gone")

	got, err := repo.GetBySessionID(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, got.Participants, 1)
	assert.Equal(t, model.RoleOwner, got.Participants[0].Role)
}

func TestMongoSaveCodeTrimsHistory(t *testing.T) {
	repo := newMongoRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newSession("abc123", 4)))

	var version int
	for _, code := range []string{"v2", "v3", "v4"} {
		v, err := repo.SaveCode(ctx, "abc123", CodeSave{
			Code:       code,
			Language:   "python",
			ModifiedBy: "user-b",
			SavedAt:    time.Now(),
			MaxHistory: 2,
		})
		require.NoError(t, err)
		version = v
	}
	assert.Equal(t, 4, version)

	got, err := repo.GetBySessionID(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "v4", got.CodeState.Code)
	assert.Equal(t, "python", got.CodeState.Language)
	require.Len(t, got.CodeHistory, 2)
	assert.Equal(t, "v2", got.CodeHistory[0].Code)
	assert.Equal(t, "v3", got.CodeHistory[1].Code)

	v, err := repo.SaveCode(ctx, "missing", CodeSave{Code: "x"})
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestMongoCursorAndChat(t *testing.T) {
	repo := newMongoRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newSession("abc123", 4)))

	for _, line := range []int{1, 5} {
		found, err := repo.UpsertCursor(ctx, "abc123", model.Cursor{
			UserID:      "user-b",
			Position:    model.Position{Line: line, Column: 2},
			LastUpdated: time.Now(),
		})
		require.NoError(t, err)
		assert.True(t, found)
	}

	found, err := repo.AppendChat(ctx, "abc123", model.ChatMessage{UserID: "user-b", Message: "hi", MessageType: model.MessageText, Timestamp: time.Now()})
	require.NoError(t, err)
	assert.True(t, found)

	got, err := repo.GetBySessionID(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, got.Cursors, 1)
	assert.Equal(t, 5, got.Cursors[0].Position.Line)

	msgs, found, err := repo.ChatHistory(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Message)
}

func TestMongoEnd(t *testing.T) {
	repo := newMongoRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newSession("abc123", 4)))

	ended, err := repo.End(ctx, "abc123", time.Now())
	require.NoError(t, err)
	require.NotNil(t, ended)
	assert.Equal(t, model.SessionCompleted, ended.Status)
	assert.Equal(t, 30, ended.Duration)
	assert.False(t, ended.CollaborationState.IsActive)

	ended, err = repo.End(ctx, "abc123", time.Now())
	require.NoError(t, err)
	assert.Nil(t, ended)

	found, err := repo.AppendChat(ctx, "abc123", model.ChatMessage{UserID: "user-b", Message: "late", Timestamp: time.Now()})
	require.NoError(t, err)
	assert.False(t, found)

	version, err := repo.SaveCode(ctx, "abc123", CodeSave{Code: "after end", SavedAt: time.Now()})
	require.NoError(t, err)
	assert.Zero(t, version)

	got, err := repo.GetBySessionID(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.CodeState.Code)
	assert.Equal(t, 1, got.CodeState.Version)
}
