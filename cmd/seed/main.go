package main

import (
	"codepair/internal/config"
	"codepair/internal/model"
	"codepair/internal/repository"
	"codepair/internal/service"
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Seeds a demo session owned by alice and prints bearer tokens for alice and bob
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(ctx)

	repo := repository.NewSessionRepo(client.Database(cfg.MongoDB))
	if err := repo.EnsureIndexes(ctx); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}

	const (
		ownerID   = "user_alice"
		ownerName = "alice"
		guestID   = "user_bob"
		guestName = "bob"
		sessionID = "abc123"
	)

	existing, err := repo.GetBySessionID(ctx, sessionID)
	if err != nil {
		log.Fatalf("Failed to look up demo session: %v", err)
	}

	if existing == nil {
		now := time.Now()
		session := &model.Session{
			SessionID:   sessionID,
			Title:       "Two Sum",
			Description: "Return indices of the two numbers that add up to the target.",
			Tags:        []string{"arrays", "hash-map"},
			Creator:     ownerID,
			Status:      model.SessionActive,
			Difficulty:  model.DifficultyEasy,
			StartedAt:   now,
			CodeState: model.CodeState{
				Language:  "javascript",
				Code:      "function twoSum(nums, target) {\n\n}\n",
				Version:   1,
				LastSaved: now,
			},
			CodeHistory:  []model.CodeRevision{},
			Participants: []model.Participant{model.NewOwner(ownerID, ownerName, now)},
			Cursors:      []model.Cursor{},
			Chat:         []model.ChatMessage{},
			CollaborationState: model.CollaborationState{
				IsActive:        true,
				MaxParticipants: model.DefaultMaxParticipants,
				ChatEnabled:     true,
			},
			Settings: model.SessionSettings{
				AutoSaveInterval: model.DefaultAutoSaveMS,
				MaxCodeHistory:   model.DefaultMaxCodeHistory,
			},
		}
		if err := repo.Create(ctx, session); err != nil {
			log.Fatalf("Failed to insert session: %v", err)
		}
		fmt.Printf("Successfully created session '%s' (%s) for '%s'\n", session.Title, sessionID, ownerID)
	} else {
		fmt.Printf("Session %s already exists (status %s)\n", sessionID, existing.Status)
	}

	auth := service.NewAuthService(cfg.JWTSecret)
	for _, u := range []model.Identity{{UserID: ownerID, Username: ownerName}, {UserID: guestID, Username: guestName}} {
		token, err := auth.IssueToken(u.UserID, u.Username, 24*time.Hour)
		if err != nil {
			log.Fatalf("Failed to sign token for %s: %v", u.UserID, err)
		}
		fmt.Printf("%s token: %s\n", u.Username, token)
	}
}
