package repository

import (
	"codepair/internal/model"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrDuplicateSessionID is returned by Create when the public session id is taken
var ErrDuplicateSessionID = errors.New("session id already exists")

// CodeSave is a durable checkpoint of the live code buffer
type CodeSave struct {
	Code       string
	Language   string
	ModifiedBy string
	SavedAt    time.Time
	MaxHistory int
}

// SessionRepo is the durable session store. Lookups return nil, nil when no document matches.
type SessionRepo interface {
	EnsureIndexes(ctx context.Context) error
	Create(ctx context.Context, session *model.Session) error
	GetBySessionID(ctx context.Context, sessionID string) (*model.Session, error)
	GetActive(ctx context.Context, sessionID string) (*model.Session, error)

	// AddParticipant pushes p unless the user already has a row, the session is not
	// active or it already holds maxParticipants rows. Reports whether a row was added.
	AddParticipant(ctx context.Context, sessionID string, p model.Participant, maxParticipants int) (bool, error)
	TouchParticipant(ctx context.Context, sessionID, userID string, at time.Time) error
	// RemoveParticipant never removes the owner row. Reports whether a row was removed.
	RemoveParticipant(ctx context.Context, sessionID, userID string) (bool, error)

	SaveCode(ctx context.Context, sessionID string, save CodeSave) (int, error)
	UpsertCursor(ctx context.Context, sessionID string, cursor model.Cursor) (bool, error)
	AppendChat(ctx context.Context, sessionID string, msg model.ChatMessage) (bool, error)
	ChatHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, bool, error)

	// End marks an active session completed and returns the updated document.
	End(ctx context.Context, sessionID string, endedAt time.Time) (*model.Session, error)
}

type sessionRepo struct {
	collection *mongo.Collection
}

// NewSessionRepo creates a new session repository
func NewSessionRepo(db *mongo.Database) SessionRepo {
	return &sessionRepo{
		collection: db.Collection("sessions"),
	}
}

func (r *sessionRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sessionId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "creator", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "participants.userId", Value: 1}}},
		{Keys: bson.D{{Key: "startedAt", Value: -1}}},
	})
	return err
}

func (r *sessionRepo) Create(ctx context.Context, session *model.Session) error {
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, session)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateSessionID
	}
	return err
}

func (r *sessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*model.Session, error) {
	return r.findOne(ctx, bson.M{"sessionId": sessionID})
}

func (r *sessionRepo) GetActive(ctx context.Context, sessionID string) (*model.Session, error) {
	return r.findOne(ctx, activeFilter(sessionID))
}

func (r *sessionRepo) findOne(ctx context.Context, filter bson.M) (*model.Session, error) {
	var session model.Session
	err := r.collection.FindOne(ctx, filter).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) AddParticipant(ctx context.Context, sessionID string, p model.Participant, maxParticipants int) (bool, error) {
	filter := activeFilter(sessionID)
	filter["participants.userId"] = bson.M{"$ne": p.UserID}
	if maxParticipants > 0 {
		// the array has fewer than maxParticipants elements iff index max-1 is absent
		filter[fmt.Sprintf("participants.%d", maxParticipants-1)] = bson.M{"$exists": false}
	}

	res, err := r.collection.UpdateOne(ctx, filter, bson.M{
		"$push": bson.M{"participants": p},
		"$set":  bson.M{"updatedAt": time.Now()},
	})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

func (r *sessionRepo) TouchParticipant(ctx context.Context, sessionID, userID string, at time.Time) error {
	filter := bson.M{"sessionId": sessionID, "participants.userId": userID}
	_, err := r.collection.UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{"participants.$.lastActive": at},
	})
	return err
}

func (r *sessionRepo) RemoveParticipant(ctx context.Context, sessionID, userID string) (bool, error) {
	row := bson.M{"userId": userID, "role": bson.M{"$ne": model.RoleOwner}}
	filter := bson.M{
		"sessionId":    sessionID,
		"participants": bson.M{"$elemMatch": row},
	}
	res, err := r.collection.UpdateOne(ctx, filter, bson.M{
		"$pull": bson.M{"participants": row},
		"$set":  bson.M{"updatedAt": time.Now()},
	})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// SaveCode writes the checkpoint in one pipeline update so the previous code lands in
// history and the version is incremented atomically. Sessions that are no longer active
// are left untouched and report version 0.
func (r *sessionRepo) SaveCode(ctx context.Context, sessionID string, save CodeSave) (int, error) {
	maxHistory := save.MaxHistory
	if maxHistory <= 0 {
		maxHistory = model.DefaultMaxCodeHistory
	}

	previous := bson.M{
		"version":           "$codeState.version",
		"code":              "$codeState.code",
		"changeDescription": bson.M{"$literal": "Updated by " + save.ModifiedBy},
		"changedBy":         bson.M{"$literal": save.ModifiedBy},
		"timestamp":         save.SavedAt,
	}
	history := bson.M{"$slice": bson.A{
		bson.M{"$concatArrays": bson.A{
			bson.M{"$ifNull": bson.A{"$codeHistory", bson.A{}}},
			bson.A{previous},
		}},
		-maxHistory,
	}}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.M{
			"codeHistory":              history,
			"codeState.code":           bson.M{"$literal": save.Code},
			"codeState.language":       bson.M{"$literal": save.Language},
			"codeState.version":        bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$codeState.version", 1}}, 1}},
			"codeState.lastSaved":      save.SavedAt,
			"codeState.lastModifiedBy": bson.M{"$literal": save.ModifiedBy},
			"updatedAt":                save.SavedAt,
		}}},
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"codeState.version": 1})

	var out struct {
		CodeState struct {
			Version int `bson:"version"`
		} `bson:"codeState"`
	}
	err := r.collection.FindOneAndUpdate(ctx, activeFilter(sessionID), pipeline, opts).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return out.CodeState.Version, nil
}

func (r *sessionRepo) UpsertCursor(ctx context.Context, sessionID string, cursor model.Cursor) (bool, error) {
	set := bson.M{
		"cursors.$.position":    cursor.Position,
		"cursors.$.lastUpdated": cursor.LastUpdated,
	}
	if cursor.Selection != nil {
		set["cursors.$.selection"] = cursor.Selection
	}

	// a concurrent insert for the same user can make the push miss; one retry of the
	// positional update covers it
	for attempt := 0; attempt < 2; attempt++ {
		filter := activeFilter(sessionID)
		filter["cursors.userId"] = cursor.UserID
		res, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
		if err != nil {
			return false, err
		}
		if res.MatchedCount > 0 {
			return true, nil
		}

		if attempt > 0 {
			break
		}

		filter = activeFilter(sessionID)
		filter["cursors.userId"] = bson.M{"$ne": cursor.UserID}
		res, err = r.collection.UpdateOne(ctx, filter, bson.M{"$push": bson.M{"cursors": cursor}})
		if err != nil {
			return false, err
		}
		if res.MatchedCount > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (r *sessionRepo) AppendChat(ctx context.Context, sessionID string, msg model.ChatMessage) (bool, error) {
	res, err := r.collection.UpdateOne(ctx, activeFilter(sessionID), bson.M{
		"$push": bson.M{"chat": msg},
		"$set":  bson.M{"updatedAt": msg.Timestamp},
	})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (r *sessionRepo) ChatHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, bool, error) {
	var out struct {
		Chat []model.ChatMessage `bson:"chat"`
	}
	opts := options.FindOne().SetProjection(bson.M{"chat": 1})
	err := r.collection.FindOne(ctx, bson.M{"sessionId": sessionID}, opts).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if out.Chat == nil {
		out.Chat = []model.ChatMessage{}
	}
	return out.Chat, true, nil
}

func (r *sessionRepo) End(ctx context.Context, sessionID string, endedAt time.Time) (*model.Session, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.M{
			"status":                      model.SessionCompleted,
			"endedAt":                     endedAt,
			"collaborationState.isActive": false,
			"updatedAt":                   endedAt,
			"duration": bson.M{"$round": bson.A{
				bson.M{"$divide": bson.A{bson.M{"$subtract": bson.A{endedAt, "$startedAt"}}, 60000}},
				0,
			}},
		}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var session model.Session
	err := r.collection.FindOneAndUpdate(ctx, activeFilter(sessionID), pipeline, opts).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func activeFilter(sessionID string) bson.M {
	return bson.M{"sessionId": sessionID, "status": model.SessionActive}
}
