package service

import (
	"context"
	"errors"
	"log"
	"pixbin/image-app/internal/repository"
	"pixbin/image-app/internal/shortid"
	"pixbin/image-app/internal/storage"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// --- Error Definitions ---
var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrDownloadURLError = errors.New("failed to generate download URL")
)

// ArtifactService serves the public short links and artifact management.
type ArtifactService interface {
	// ResolveShortID turns a public short id into a time-boxed download URL.
	ResolveShortID(ctx context.Context, shortID string) (string, error)
	// DeleteArtifact removes an artifact owned by the account. Object
	// storage cleanup is best-effort and does not refund quota.
	DeleteArtifact(ctx context.Context, accountID primitive.ObjectID, shortID string) error
}

// --- Service Implementation ---

type artifactService struct {
	artifactRepo repository.ArtifactRepository
	fileStorage  storage.FileStorage
	urlExpiry    time.Duration
	now          func() time.Time
}

// NewArtifactService creates a new instance of artifactService.
func NewArtifactService(artifactRepo repository.ArtifactRepository, fileStorage storage.FileStorage, urlExpiry time.Duration) ArtifactService {
	return &artifactService{
		artifactRepo: artifactRepo,
		fileStorage:  fileStorage,
		urlExpiry:    urlExpiry,
		now:          time.Now,
	}
}

// ResolveShortID resolves a short link. Malformed ids, unknown ids, and
// expired artifacts all read as not found; the distinction is not leaked.
func (s *artifactService) ResolveShortID(ctx context.Context, shortID string) (string, error) {
	if !shortid.IsValid(shortID) {
		return "", ErrArtifactNotFound
	}

	artifact, err := s.artifactRepo.GetByShortID(ctx, shortID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrArtifactNotFound
		}
		return "", &TransientError{Err: err}
	}
	if artifact.Expired(s.now().UTC()) {
		return "", ErrArtifactNotFound
	}

	url, err := s.fileStorage.GeneratePresignedDownloadURL(ctx, artifact.S3ObjectKey, s.urlExpiry)
	if err != nil {
		log.Printf("ERROR: Presigned download URL generation failed for %s: %v", shortID, err)
		return "", ErrDownloadURLError
	}
	return url, nil
}

// DeleteArtifact removes the metadata row, then clears the S3 object in
// the background. Quota usage is append-only: deleting does not free up
// this month's count.
func (s *artifactService) DeleteArtifact(ctx context.Context, accountID primitive.ObjectID, shortID string) error {
	if !shortid.IsValid(shortID) {
		return ErrArtifactNotFound
	}

	artifact, err := s.artifactRepo.GetByShortID(ctx, shortID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrArtifactNotFound
		}
		return &TransientError{Err: err}
	}
	if artifact.AccountID != accountID {
		return ErrArtifactNotFound
	}

	if err := s.artifactRepo.Delete(ctx, artifact.ID, accountID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrArtifactNotFound
		}
		return &TransientError{Err: err}
	}

	// Best-effort cleanup off the request path.
	objectKey := artifact.S3ObjectKey
	go func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.fileStorage.DeleteObject(cleanupCtx, objectKey); err != nil {
			log.Printf("ERROR: Background S3 cleanup failed for key '%s': %v", objectKey, err)
		}
	}()

	return nil
}
