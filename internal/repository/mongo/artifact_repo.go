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

const artifactCollectionName = "artifacts"

// mongoArtifactRepository implements repository.ArtifactRepository
type mongoArtifactRepository struct {
	collection *mongo.Collection
}

// NewMongoArtifactRepository creates a new Artifact repository backed by MongoDB.
func NewMongoArtifactRepository(db *mongo.Database) repository.ArtifactRepository {
	return &mongoArtifactRepository{
		collection: db.Collection(artifactCollectionName),
	}
}

// Create inserts a new artifact. The unique indexes on shortId and on
// (accountId, contentHash) make this an insert-if-absent: a concurrent
// commit of the same content surfaces as ErrConflict, which the service
// resolves to the already-committed artifact.
func (r *mongoArtifactRepository) Create(ctx context.Context, artifact *domain.Artifact) (primitive.ObjectID, error) {
	if artifact.AccountID == primitive.NilObjectID ||
		artifact.ShortID == "" ||
		artifact.ContentHash == "" ||
		artifact.S3ObjectKey == "" {
		return primitive.NilObjectID, errors.New("artifact requires accountId, shortId, contentHash, and s3ObjectKey")
	}

	artifact.ID = primitive.NewObjectID()
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	result, err := r.collection.InsertOne(ctx, artifact)
	if err != nil {
		if isDuplicateKey(err) {
			return primitive.NilObjectID, repository.ErrConflict
		}
		return primitive.NilObjectID, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted ID")
	}
	return insertedID, nil
}

// GetByID retrieves an artifact by its ID.
func (r *mongoArtifactRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Artifact, error) {
	var artifact domain.Artifact
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&artifact)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &artifact, nil
}

// GetByAccountAndHash is the duplicate-detector lookup. Scope is strictly
// per-account: identical bytes uploaded by two accounts are two artifacts.
func (r *mongoArtifactRepository) GetByAccountAndHash(ctx context.Context, accountID primitive.ObjectID, contentHash string) (*domain.Artifact, error) {
	var artifact domain.Artifact
	filter := bson.M{"accountId": accountID, "contentHash": contentHash}

	err := r.collection.FindOne(ctx, filter).Decode(&artifact)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &artifact, nil
}

// GetByShortID resolves a public short link to its artifact.
func (r *mongoArtifactRepository) GetByShortID(ctx context.Context, shortID string) (*domain.Artifact, error) {
	var artifact domain.Artifact
	err := r.collection.FindOne(ctx, bson.M{"shortId": shortID}).Decode(&artifact)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &artifact, nil
}

// ShortIDExists is the existence check handed to the short-id allocator.
func (r *mongoArtifactRepository) ShortIDExists(ctx context.Context, shortID string) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"shortId": shortID}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountCreatedSince counts artifacts committed from the given instant. Used
// for the downgrade path, where usage is only counted from the downgrade
// timestamp forward.
func (r *mongoArtifactRepository) CountCreatedSince(ctx context.Context, accountID primitive.ObjectID, since time.Time) (int64, error) {
	filter := bson.M{"accountId": accountID, "createdAt": bson.M{"$gte": since}}
	return r.collection.CountDocuments(ctx, filter)
}

// Delete removes an artifact, scoped to the owning account.
func (r *mongoArtifactRepository) Delete(ctx context.Context, id, accountID primitive.ObjectID) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id, "accountId": accountID})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// EnsureArtifactIndexes creates necessary indexes for the artifacts collection.
func EnsureArtifactIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			// Short ids are globally unique across all artifacts.
			Keys:    bson.D{{Key: "shortId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// One artifact per (account, content hash) pair. This backs the
			// idempotent-completion guarantee.
			Keys:    bson.D{{Key: "accountId", Value: 1}, {Key: "contentHash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "accountId", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index(),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		// log.Printf("WARN: Failed to create indexes for collection %s: %v", collection.Name(), err)
	}
}
