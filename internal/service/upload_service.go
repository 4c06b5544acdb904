package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"path"
	"pixbin/image-app/internal/domain"
	"pixbin/image-app/internal/repository"
	"pixbin/image-app/internal/shortid"
	"pixbin/image-app/internal/storage"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// --- Error Definitions ---
var (
	ErrInvalidFileName    = errors.New("filename cannot be empty")
	ErrFileTooLarge       = errors.New("file exceeds the maximum allowed size")
	ErrUnsupportedMime    = errors.New("file type is not allowed")
	ErrMissingContentHash = errors.New("content hash is required")
	ErrAccountNotFound    = errors.New("account not found")
	ErrSessionNotFound    = errors.New("upload session not found")
	ErrAlreadyCompleted   = errors.New("upload session is already completed")
	ErrMaxRetriesExceeded = errors.New("upload session has exhausted its retry budget; start a new session")
	ErrUploadURLError     = errors.New("failed to generate upload URL")
)

// TransientError marks a retryable storage failure. The caller decides
// whether to retry; the server never retries on its own.
type TransientError struct {
	RetryCount int
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient storage failure (retries used: %d): %v", e.RetryCount, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// UploadLimits bundles the engine's configured ceilings.
type UploadLimits struct {
	MaxFileSize      int64
	AllowedMimeTypes []string
	MaxRetries       int
	URLExpiry        time.Duration
	Quota            QuotaLimits
}

// BeginSessionResult is the upload handle returned when a session starts.
type BeginSessionResult struct {
	SessionID primitive.ObjectID `json:"sessionId"`
	UploadURL string             `json:"uploadUrl"`
	ObjectKey string             `json:"objectKey"`
	Quota     QuotaSnapshot      `json:"quota"`
}

// ArtifactRef identifies a committed artifact.
type ArtifactRef struct {
	ArtifactID primitive.ObjectID `json:"artifactId"`
	ShortID    string             `json:"shortId"`
}

// CompletionResult is returned by CompleteSession. Duplicate is true when
// the content hash was already committed and the existing artifact was
// returned instead of creating a new one.
type CompletionResult struct {
	Artifact  ArtifactRef   `json:"artifact"`
	Duplicate bool          `json:"duplicate"`
	Quota     QuotaSnapshot `json:"quota"`
}

// ProgressSnapshot is a pure read of a session's progress.
type ProgressSnapshot struct {
	Status        domain.SessionStatus `json:"status"`
	BytesUploaded int64                `json:"bytesUploaded"`
	TotalBytes    int64                `json:"totalBytes"`
	Percentage    int                  `json:"percentage"`
	RetryCount    int                  `json:"retryCount"`
	ErrorMessage  string               `json:"errorMessage,omitempty"`
}

// UploadService manages the lifecycle of an upload from intent to committed
// artifact, enforcing quota, dedup, and the bounded retry policy.
type UploadService interface {
	BeginSession(ctx context.Context, accountID primitive.ObjectID, fileName string, declaredSize int64, mimeType string) (*BeginSessionResult, error)
	CompleteSession(ctx context.Context, accountID, sessionID primitive.ObjectID, contentHash string, width, height int) (*CompletionResult, error)
	GetProgress(ctx context.Context, accountID, sessionID primitive.ObjectID) (*ProgressSnapshot, error)
	ReportProgress(ctx context.Context, accountID, sessionID primitive.ObjectID, bytesUploaded int64) error
	CurrentQuota(ctx context.Context, accountID primitive.ObjectID) (*QuotaSnapshot, error)
	ValidateFile(fileName string, declaredSize int64, mimeType string) error
}

// --- Service Implementation ---

type uploadService struct {
	accountRepo  repository.AccountRepository
	sessionRepo  repository.SessionRepository
	artifactRepo repository.ArtifactRepository
	usageRepo    repository.UsageRepository
	fileStorage  storage.FileStorage
	limits       UploadLimits
	now          func() time.Time
}

// NewUploadService creates a new instance of uploadService.
func NewUploadService(
	accountRepo repository.AccountRepository,
	sessionRepo repository.SessionRepository,
	artifactRepo repository.ArtifactRepository,
	usageRepo repository.UsageRepository,
	fileStorage storage.FileStorage,
	limits UploadLimits,
) UploadService {
	if limits.MaxRetries <= 0 {
		limits.MaxRetries = 3
	}
	return &uploadService{
		accountRepo:  accountRepo,
		sessionRepo:  sessionRepo,
		artifactRepo: artifactRepo,
		usageRepo:    usageRepo,
		fileStorage:  fileStorage,
		limits:       limits,
		now:          time.Now,
	}
}

// ValidateFile performs the static checks applied before any session is
// created: declared size and mime type.
func (s *uploadService) ValidateFile(fileName string, declaredSize int64, mimeType string) error {
	if strings.TrimSpace(fileName) == "" {
		return ErrInvalidFileName
	}
	if declaredSize <= 0 || declaredSize > s.limits.MaxFileSize {
		return ErrFileTooLarge
	}
	for _, allowed := range s.limits.AllowedMimeTypes {
		if strings.EqualFold(allowed, mimeType) {
			return nil
		}
	}
	return ErrUnsupportedMime
}

// BeginSession validates the declared file, checks quota, and reserves a
// pending session with a time-boxed presigned upload target.
//
// The quota check here is advisory: it rejects requests that are already
// over the limit, but the enforced check is the atomic counter increment at
// completion time, so a burst of concurrent sessions can never overshoot
// the ceiling.
func (s *uploadService) BeginSession(ctx context.Context, accountID primitive.ObjectID, fileName string, declaredSize int64, mimeType string) (*BeginSessionResult, error) {
	if err := s.ValidateFile(fileName, declaredSize, mimeType); err != nil {
		return nil, err
	}

	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	snapshot, allowed, err := s.currentSnapshot(ctx, account)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, &QuotaExceededError{Snapshot: snapshot}
	}

	objectKey := path.Join("uploads", accountID.Hex(), fmt.Sprintf("%s.%s", uuid.NewString(), extensionFor(mimeType, fileName)))

	uploadURL, err := s.fileStorage.GeneratePresignedUploadURL(ctx, objectKey, mimeType, s.limits.URLExpiry)
	if err != nil {
		log.Printf("ERROR: Presigned upload URL generation failed for account %s: %v", accountID.Hex(), err)
		return nil, ErrUploadURLError
	}

	session := &domain.UploadSession{
		AccountID:    accountID,
		FileName:     fileName,
		DeclaredSize: declaredSize,
		MimeType:     mimeType,
		S3ObjectKey:  objectKey,
		Status:       domain.SessionPending,
	}

	sessionID, err := s.sessionRepo.Create(ctx, session)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	return &BeginSessionResult{
		SessionID: sessionID,
		UploadURL: uploadURL,
		ObjectKey: objectKey,
		Quota:     snapshot,
	}, nil
}

// CompleteSession commits an uploaded object as an artifact.
//
// Duplicate content short-circuits to the existing artifact without
// touching the quota counter, which makes completion idempotent under
// client retries. A failed session may re-enter via the bounded retry
// path; a session past its retry budget is terminally failed.
func (s *uploadService) CompleteSession(ctx context.Context, accountID, sessionID primitive.ObjectID, contentHash string, width, height int) (*CompletionResult, error) {
	if contentHash == "" {
		return nil, ErrMissingContentHash
	}

	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, &TransientError{Err: err}
	}
	// Sessions are only visible to their owner.
	if session.AccountID != accountID {
		return nil, ErrSessionNotFound
	}

	switch session.Status {
	case domain.SessionCompleted:
		return nil, ErrAlreadyCompleted
	case domain.SessionFailed:
		if session.RetryCount >= s.limits.MaxRetries {
			return nil, ErrMaxRetriesExceeded
		}
		// Re-enter the state machine: back to uploading with the error
		// cleared. The retry counter advances when an attempt fails, so a
		// session that failed MaxRetries times can never leave failed.
		session.Status = domain.SessionUploading
		session.ErrorMessage = ""
		if err := s.sessionRepo.Update(ctx, session); err != nil {
			return nil, &TransientError{RetryCount: session.RetryCount, Err: err}
		}
	}

	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	policy := PlanPolicyFor(account.Plan, s.limits.Quota)
	now := s.now().UTC()

	// Duplicate detection, scoped to this account.
	existing, err := s.artifactRepo.GetByAccountAndHash(ctx, accountID, contentHash)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, s.failSession(ctx, session, err)
	}
	if existing != nil {
		return s.resolveDuplicate(ctx, session, account, existing)
	}

	// Reserve the public identifier before committing anything.
	shortID, err := shortid.Allocate(ctx, s.artifactRepo.ShortIDExists)
	if err != nil {
		if errors.Is(err, shortid.ErrExhausted) {
			// Collision exhaustion at this space size is an operator
			// problem, not something a client retry will fix.
			log.Printf("ERROR: Short id allocation exhausted for account %s", accountID.Hex())
			s.markFailed(ctx, session, err.Error())
			return nil, err
		}
		return nil, s.failSession(ctx, session, err)
	}

	// Quota accounting: the increment is atomic relative to its own check,
	// so concurrent completions at limit-1 cannot both pass.
	usage, err := s.incrementUsage(ctx, account, now, session.DeclaredSize)
	if err != nil {
		if errors.Is(err, repository.ErrQuotaExhausted) {
			snapshot, _, snapErr := s.currentSnapshot(ctx, account)
			if snapErr != nil {
				snapshot = QuotaSnapshot{Plan: account.Plan, Limit: policy.MonthlyLimit, Used: policy.MonthlyLimit}
			}
			s.markFailed(ctx, session, "monthly quota exceeded")
			return nil, &QuotaExceededError{Snapshot: snapshot}
		}
		return nil, s.failSession(ctx, session, err)
	}

	artifact := &domain.Artifact{
		AccountID:   accountID,
		ShortID:     shortID,
		ContentHash: contentHash,
		S3ObjectKey: session.S3ObjectKey,
		FileName:    session.FileName,
		MimeType:    session.MimeType,
		ByteSize:    session.DeclaredSize,
		Width:       width,
		Height:      height,
		ExpiresAt:   ExpiryFor(policy, now),
		CreatedAt:   now,
	}

	artifactID, err := s.artifactRepo.Create(ctx, artifact)
	if err != nil {
		// The counter was bumped for an artifact that did not materialize.
		if decErr := s.usageRepo.Decrement(ctx, accountID, MonthKey(now), session.DeclaredSize); decErr != nil {
			log.Printf("ERROR: Usage compensation failed for account %s: %v", accountID.Hex(), decErr)
		}

		if errors.Is(err, repository.ErrConflict) {
			// Lost a race against a concurrent completion of the same
			// content; resolve to whatever won.
			existing, getErr := s.artifactRepo.GetByAccountAndHash(ctx, accountID, contentHash)
			if getErr == nil {
				return s.resolveDuplicate(ctx, session, account, existing)
			}
		}
		return nil, s.failSession(ctx, session, err)
	}

	session.Status = domain.SessionCompleted
	session.ResultingArtifactID = &artifactID
	session.ErrorMessage = ""
	if err := s.sessionRepo.Update(ctx, session); err != nil {
		// The artifact is committed and counted; a client retry will take
		// the duplicate path and complete the session then.
		log.Printf("ERROR: Failed to mark session %s completed: %v", session.ID.Hex(), err)
		return nil, &TransientError{RetryCount: session.RetryCount, Err: err}
	}

	return &CompletionResult{
		Artifact: ArtifactRef{ArtifactID: artifactID, ShortID: shortID},
		Quota:    s.snapshotFor(account, policy, usage.Count, now),
	}, nil
}

// GetProgress is a pure read of the session's progress. It never causes a
// state transition.
func (s *uploadService) GetProgress(ctx context.Context, accountID, sessionID primitive.ObjectID) (*ProgressSnapshot, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, &TransientError{Err: err}
	}
	if session.AccountID != accountID {
		return nil, ErrSessionNotFound
	}

	percentage := 0
	if session.DeclaredSize > 0 {
		percentage = int(math.Round(float64(session.BytesUploaded) / float64(session.DeclaredSize) * 100))
	}

	return &ProgressSnapshot{
		Status:        session.Status,
		BytesUploaded: session.BytesUploaded,
		TotalBytes:    session.DeclaredSize,
		Percentage:    percentage,
		RetryCount:    session.RetryCount,
		ErrorMessage:  session.ErrorMessage,
	}, nil
}

// ReportProgress records an out-of-band byte-progress report. The stored
// value is monotonically non-decreasing.
func (s *uploadService) ReportProgress(ctx context.Context, accountID, sessionID primitive.ObjectID, bytesUploaded int64) error {
	if bytesUploaded < 0 {
		return errors.New("bytesUploaded cannot be negative")
	}

	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return &TransientError{Err: err}
	}
	if session.AccountID != accountID {
		return ErrSessionNotFound
	}
	if session.Status == domain.SessionCompleted {
		return ErrAlreadyCompleted
	}

	if err := s.sessionRepo.RecordProgress(ctx, sessionID, bytesUploaded); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return &TransientError{RetryCount: session.RetryCount, Err: err}
	}
	return nil
}

// CurrentQuota returns the caller's usage snapshot for the current window.
func (s *uploadService) CurrentQuota(ctx context.Context, accountID primitive.ObjectID) (*QuotaSnapshot, error) {
	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	snapshot, _, err := s.currentSnapshot(ctx, account)
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// --- internals ---

func (s *uploadService) getAccount(ctx context.Context, accountID primitive.ObjectID) (*domain.Account, error) {
	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, &TransientError{Err: err}
	}
	return account, nil
}

// currentSnapshot reads the month's counter and renders the quota view for
// the account's plan, applying the downgrade baseline when one is in play.
func (s *uploadService) currentSnapshot(ctx context.Context, account *domain.Account) (QuotaSnapshot, bool, error) {
	now := s.now().UTC()
	policy := PlanPolicyFor(account.Plan, s.limits.Quota)

	usage, err := s.usageRepo.Get(ctx, account.ID, MonthKey(now))
	if err != nil {
		return QuotaSnapshot{}, false, &TransientError{Err: err}
	}

	used := EffectiveUsed(account, usage.Count, now)
	snapshot, allowed := CheckQuota(account.Plan, policy, used)
	return snapshot, allowed, nil
}

// incrementUsage routes to the conditional or unconditional counter update
// depending on the plan. For metered accounts with a mid-month downgrade
// baseline, the raw ceiling is shifted by the baseline so that only
// post-downgrade artifacts count.
func (s *uploadService) incrementUsage(ctx context.Context, account *domain.Account, now time.Time, bytes int64) (*domain.Usage, error) {
	month := MonthKey(now)
	policy := PlanPolicyFor(account.Plan, s.limits.Quota)

	if !policy.Metered {
		return s.usageRepo.Increment(ctx, account.ID, month, bytes)
	}

	limit := policy.MonthlyLimit
	if account.UsageBaseline > 0 && MonthKey(account.PlanChangedAt) == month {
		limit += account.UsageBaseline
	}
	return s.usageRepo.IncrementWithin(ctx, account.ID, month, limit, bytes)
}

func (s *uploadService) snapshotFor(account *domain.Account, policy PlanPolicy, rawCount int64, now time.Time) QuotaSnapshot {
	used := EffectiveUsed(account, rawCount, now)
	snapshot, _ := CheckQuota(account.Plan, policy, used)
	return snapshot
}

// resolveDuplicate finishes a session against an artifact that already
// holds this content. No quota is consumed.
func (s *uploadService) resolveDuplicate(ctx context.Context, session *domain.UploadSession, account *domain.Account, existing *domain.Artifact) (*CompletionResult, error) {
	session.Status = domain.SessionCompleted
	session.ResultingArtifactID = &existing.ID
	session.ErrorMessage = ""
	if err := s.sessionRepo.Update(ctx, session); err != nil {
		log.Printf("ERROR: Failed to mark session %s completed (duplicate): %v", session.ID.Hex(), err)
		return nil, &TransientError{RetryCount: session.RetryCount, Err: err}
	}

	snapshot, _, err := s.currentSnapshot(ctx, account)
	if err != nil {
		return nil, err
	}

	return &CompletionResult{
		Artifact:  ArtifactRef{ArtifactID: existing.ID, ShortID: existing.ShortID},
		Duplicate: true,
		Quota:     snapshot,
	}, nil
}

// failSession records a retryable failure on the session and wraps the
// cause so the handler can tell the client it may retry.
func (s *uploadService) failSession(ctx context.Context, session *domain.UploadSession, cause error) error {
	s.markFailed(ctx, session, cause.Error())
	return &TransientError{RetryCount: session.RetryCount, Err: cause}
}

// markFailed flips the session to failed and advances the retry counter.
// The counter only ever increases.
func (s *uploadService) markFailed(ctx context.Context, session *domain.UploadSession, message string) {
	session.Status = domain.SessionFailed
	session.RetryCount++
	session.ErrorMessage = message
	if err := s.sessionRepo.Update(ctx, session); err != nil {
		log.Printf("ERROR: Failed to mark session %s failed: %v", session.ID.Hex(), err)
	}
}

// extensionFor picks an object key extension from the mime type, falling
// back to whatever the filename carries.
func extensionFor(mimeType, fileName string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	}
	if ext := strings.TrimPrefix(path.Ext(fileName), "."); ext != "" {
		return ext
	}
	return "bin"
}
