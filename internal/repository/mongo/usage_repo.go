package mongo

import (
	"context"
	"errors"
	"pixbin/image-app/internal/domain"
	"pixbin/image-app/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const usageCollectionName = "usage"

// mongoUsageRepository implements repository.UsageRepository
type mongoUsageRepository struct {
	collection *mongo.Collection
}

// NewMongoUsageRepository creates a new usage counter repository backed by MongoDB.
func NewMongoUsageRepository(db *mongo.Database) repository.UsageRepository {
	return &mongoUsageRepository{
		collection: db.Collection(usageCollectionName),
	}
}

// Get returns the month's counter, or a zero-valued one if the account has
// not committed anything this month.
func (r *mongoUsageRepository) Get(ctx context.Context, accountID primitive.ObjectID, month string) (*domain.Usage, error) {
	var usage domain.Usage
	filter := bson.M{"accountId": accountID, "month": month}

	err := r.collection.FindOne(ctx, filter).Decode(&usage)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return &domain.Usage{AccountID: accountID, Month: month}, nil
		}
		return nil, err
	}
	return &usage, nil
}

// IncrementWithin performs the check and the increment as one conditional
// FindOneAndUpdate: the filter requires count < limit, so two concurrent
// callers at limit-1 can never both get through. When the document does not
// match (counter at or above limit), the upsert tries to insert a fresh one
// and trips the unique (accountId, month) index, which we report as
// ErrQuotaExhausted.
func (r *mongoUsageRepository) IncrementWithin(ctx context.Context, accountID primitive.ObjectID, month string, limit int64, bytes int64) (*domain.Usage, error) {
	filter := bson.M{
		"accountId": accountID,
		"month":     month,
		"count":     bson.M{"$lt": limit},
	}
	update := bson.M{
		"$inc": bson.M{"count": 1, "bytes": bytes},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var usage domain.Usage
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&usage)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, repository.ErrQuotaExhausted
		}
		return nil, err
	}
	return &usage, nil
}

// Increment adds to the counter with no ceiling (unmetered plans).
func (r *mongoUsageRepository) Increment(ctx context.Context, accountID primitive.ObjectID, month string, bytes int64) (*domain.Usage, error) {
	filter := bson.M{"accountId": accountID, "month": month}
	update := bson.M{
		"$inc": bson.M{"count": 1, "bytes": bytes},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var usage domain.Usage
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&usage)
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// Decrement undoes one increment. Only called to compensate an increment
// whose artifact insert failed afterwards, so the counter never goes
// negative in practice.
func (r *mongoUsageRepository) Decrement(ctx context.Context, accountID primitive.ObjectID, month string, bytes int64) error {
	filter := bson.M{"accountId": accountID, "month": month}
	update := bson.M{
		"$inc": bson.M{"count": -1, "bytes": -bytes},
	}
	_, err := r.collection.UpdateOne(ctx, filter, update)
	return err
}

// EnsureUsageIndexes creates necessary indexes for the usage collection.
func EnsureUsageIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			// One counter document per account per calendar month. The
			// conditional upsert in IncrementWithin depends on this being
			// unique.
			Keys:    bson.D{{Key: "accountId", Value: 1}, {Key: "month", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		// log.Printf("WARN: Failed to create indexes for collection %s: %v", collection.Name(), err)
	}
}
