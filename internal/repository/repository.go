package repository

import (
	"context"
	"pixbin/image-app/internal/domain"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Error constants for the repository layer. Services use these to decide
// whether a failure is a policy outcome or a transient storage problem.
var (
	ErrNotFound       = RepositoryError("not found")
	ErrConflict       = RepositoryError("conflict")        // unique index violation
	ErrQuotaExhausted = RepositoryError("quota exhausted") // conditional increment denied
	ErrUpdateFailed   = RepositoryError("update failed")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// AccountRepository defines the interface for interacting with account data.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) (primitive.ObjectID, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Account, error)
}

// SessionRepository defines the interface for interacting with upload
// session state.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.UploadSession) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.UploadSession, error)
	Update(ctx context.Context, session *domain.UploadSession) error
	// RecordProgress raises bytesUploaded to the given value (never lowers
	// it) and moves a pending session to uploading.
	RecordProgress(ctx context.Context, id primitive.ObjectID, bytesUploaded int64) error
}

// ArtifactRepository defines the interface for committed artifacts. Create
// must behave as insert-if-absent with respect to the unique
// (accountId, contentHash) pair and the unique shortId, returning
// ErrConflict when either already exists.
type ArtifactRepository interface {
	Create(ctx context.Context, artifact *domain.Artifact) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Artifact, error)
	GetByAccountAndHash(ctx context.Context, accountID primitive.ObjectID, contentHash string) (*domain.Artifact, error)
	GetByShortID(ctx context.Context, shortID string) (*domain.Artifact, error)
	ShortIDExists(ctx context.Context, shortID string) (bool, error)
	CountCreatedSince(ctx context.Context, accountID primitive.ObjectID, since time.Time) (int64, error)
	Delete(ctx context.Context, id, accountID primitive.ObjectID) error
}

// UsageRepository maintains the monthly quota counters. IncrementWithin is
// the one write that must be atomic relative to its own check: two
// concurrent callers at limit-1 must produce exactly one success.
type UsageRepository interface {
	Get(ctx context.Context, accountID primitive.ObjectID, month string) (*domain.Usage, error)
	// IncrementWithin adds one artifact and the given bytes to the month's
	// counter as a single conditional update. It returns ErrQuotaExhausted
	// when the count has already reached limit.
	IncrementWithin(ctx context.Context, accountID primitive.ObjectID, month string, limit int64, bytes int64) (*domain.Usage, error)
	// Increment adds unconditionally (unmetered plans).
	Increment(ctx context.Context, accountID primitive.ObjectID, month string, bytes int64) (*domain.Usage, error)
	// Decrement compensates an increment whose artifact insert later failed.
	Decrement(ctx context.Context, accountID primitive.ObjectID, month string, bytes int64) error
}
