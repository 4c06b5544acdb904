package mongo

import (
	"context"
	"errors"
	"pixbin/image-app/internal/domain"
	"pixbin/image-app/internal/repository"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const sessionCollectionName = "upload_sessions"

// mongoSessionRepository implements repository.SessionRepository
type mongoSessionRepository struct {
	collection *mongo.Collection
}

// NewMongoSessionRepository creates a new upload session repository backed by MongoDB.
func NewMongoSessionRepository(db *mongo.Database) repository.SessionRepository {
	return &mongoSessionRepository{
		collection: db.Collection(sessionCollectionName),
	}
}

// Create inserts a new upload session.
func (r *mongoSessionRepository) Create(ctx context.Context, session *domain.UploadSession) (primitive.ObjectID, error) {
	if session.AccountID == primitive.NilObjectID || session.S3ObjectKey == "" {
		return primitive.NilObjectID, errors.New("session requires accountId and s3ObjectKey")
	}

	session.ID = primitive.NewObjectID()
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = domain.SessionPending
	}

	result, err := r.collection.InsertOne(ctx, session)
	if err != nil {
		return primitive.NilObjectID, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted ID")
	}
	return insertedID, nil
}

// GetByID retrieves an upload session by its ID.
func (r *mongoSessionRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.UploadSession, error) {
	var session domain.UploadSession
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// Update replaces the mutable fields of a session.
func (r *mongoSessionRepository) Update(ctx context.Context, session *domain.UploadSession) error {
	session.UpdatedAt = time.Now().UTC()

	update := bson.M{"$set": bson.M{
		"status":              session.Status,
		"retryCount":          session.RetryCount,
		"bytesUploaded":       session.BytesUploaded,
		"errorMessage":        session.ErrorMessage,
		"resultingArtifactId": session.ResultingArtifactID,
		"updatedAt":           session.UpdatedAt,
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": session.ID}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RecordProgress raises bytesUploaded via $max so a stale report can never
// move the counter backwards, and flips a pending session to uploading.
func (r *mongoSessionRepository) RecordProgress(ctx context.Context, id primitive.ObjectID, bytesUploaded int64) error {
	update := bson.M{
		"$max": bson.M{"bytesUploaded": bytesUploaded},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}

	// Only pending/uploading sessions accept progress reports.
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": []domain.SessionStatus{domain.SessionPending, domain.SessionUploading}},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}

	_, err = r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": domain.SessionPending},
		bson.M{"$set": bson.M{"status": domain.SessionUploading}},
	)
	return err
}

// EnsureSessionIndexes creates necessary indexes for the upload_sessions collection.
func EnsureSessionIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			// Per-account session listing / cleanup queries.
			Keys:    bson.D{{Key: "accountId", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "createdAt", Value: 1}},
			Options: options.Index(),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		// log.Printf("WARN: Failed to create indexes for collection %s: %v", collection.Name(), err)
	}
}
