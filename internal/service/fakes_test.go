package service

import (
	"context"
	"fmt"
	"pixbin/image-app/internal/domain"
	"pixbin/image-app/internal/repository"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// In-memory repository fakes. They mirror the contracts of the Mongo
// implementations, including the conditional-increment semantics the quota
// race tests depend on.

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[primitive.ObjectID]*domain.Account
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[primitive.ObjectID]*domain.Account)}
}

func (r *fakeAccountRepo) Create(ctx context.Context, account *domain.Account) (primitive.ObjectID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Email == account.Email {
			return primitive.NilObjectID, repository.ErrConflict
		}
	}
	account.ID = primitive.NewObjectID()
	cp := *account
	r.accounts[account.ID] = &cp
	return account.ID, nil
}

func (r *fakeAccountRepo) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[primitive.ObjectID]*domain.UploadSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[primitive.ObjectID]*domain.UploadSession)}
}

func (r *fakeSessionRepo) Create(ctx context.Context, session *domain.UploadSession) (primitive.ObjectID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session.ID = primitive.NewObjectID()
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = domain.SessionPending
	}
	cp := *session
	r.sessions[session.ID] = &cp
	return session.ID, nil
}

func (r *fakeSessionRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) Update(ctx context.Context, session *domain.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[session.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Status = session.Status
	stored.RetryCount = session.RetryCount
	stored.BytesUploaded = session.BytesUploaded
	stored.ErrorMessage = session.ErrorMessage
	stored.ResultingArtifactID = session.ResultingArtifactID
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeSessionRepo) RecordProgress(ctx context.Context, id primitive.ObjectID, bytesUploaded int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if s.Status != domain.SessionPending && s.Status != domain.SessionUploading {
		return repository.ErrNotFound
	}
	if bytesUploaded > s.BytesUploaded {
		s.BytesUploaded = bytesUploaded
	}
	if s.Status == domain.SessionPending {
		s.Status = domain.SessionUploading
	}
	return nil
}

func (r *fakeSessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

type fakeArtifactRepo struct {
	mu        sync.Mutex
	artifacts map[primitive.ObjectID]*domain.Artifact
	// createErr, when non-nil, fails the next createErrN Create calls
	// (or all of them when createErrN < 0).
	createErr  error
	createErrN int
}

func newFakeArtifactRepo() *fakeArtifactRepo {
	return &fakeArtifactRepo{artifacts: make(map[primitive.ObjectID]*domain.Artifact)}
}

func (r *fakeArtifactRepo) failCreates(err error, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createErr = err
	r.createErrN = n
}

func (r *fakeArtifactRepo) Create(ctx context.Context, artifact *domain.Artifact) (primitive.ObjectID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil && r.createErrN != 0 {
		if r.createErrN > 0 {
			r.createErrN--
		}
		return primitive.NilObjectID, r.createErr
	}
	for _, a := range r.artifacts {
		if a.ShortID == artifact.ShortID {
			return primitive.NilObjectID, repository.ErrConflict
		}
		if a.AccountID == artifact.AccountID && a.ContentHash == artifact.ContentHash {
			return primitive.NilObjectID, repository.ErrConflict
		}
	}
	artifact.ID = primitive.NewObjectID()
	cp := *artifact
	r.artifacts[artifact.ID] = &cp
	return artifact.ID, nil
}

func (r *fakeArtifactRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.artifacts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeArtifactRepo) GetByAccountAndHash(ctx context.Context, accountID primitive.ObjectID, contentHash string) (*domain.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.artifacts {
		if a.AccountID == accountID && a.ContentHash == contentHash {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeArtifactRepo) GetByShortID(ctx context.Context, shortID string) (*domain.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.artifacts {
		if a.ShortID == shortID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeArtifactRepo) ShortIDExists(ctx context.Context, shortID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.artifacts {
		if a.ShortID == shortID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeArtifactRepo) CountCreatedSince(ctx context.Context, accountID primitive.ObjectID, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.artifacts {
		if a.AccountID == accountID && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *fakeArtifactRepo) Delete(ctx context.Context, id, accountID primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.artifacts[id]
	if !ok || a.AccountID != accountID {
		return repository.ErrNotFound
	}
	delete(r.artifacts, id)
	return nil
}

type fakeUsageRepo struct {
	mu       sync.Mutex
	counters map[string]*domain.Usage
}

func newFakeUsageRepo() *fakeUsageRepo {
	return &fakeUsageRepo{counters: make(map[string]*domain.Usage)}
}

func usageKey(accountID primitive.ObjectID, month string) string {
	return accountID.Hex() + "/" + month
}

// seed pre-loads a counter, e.g. "9 artifacts already this month".
func (r *fakeUsageRepo) seed(accountID primitive.ObjectID, month string, count, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[usageKey(accountID, month)] = &domain.Usage{
		AccountID: accountID,
		Month:     month,
		Count:     count,
		Bytes:     bytes,
	}
}

func (r *fakeUsageRepo) Get(ctx context.Context, accountID primitive.ObjectID, month string) (*domain.Usage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.counters[usageKey(accountID, month)]
	if !ok {
		return &domain.Usage{AccountID: accountID, Month: month}, nil
	}
	cp := *u
	return &cp, nil
}

// IncrementWithin mirrors the Mongo conditional upsert: check and add under
// one lock acquisition.
func (r *fakeUsageRepo) IncrementWithin(ctx context.Context, accountID primitive.ObjectID, month string, limit int64, bytes int64) (*domain.Usage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := usageKey(accountID, month)
	u, ok := r.counters[key]
	if !ok {
		u = &domain.Usage{AccountID: accountID, Month: month}
		r.counters[key] = u
	}
	if u.Count >= limit {
		return nil, repository.ErrQuotaExhausted
	}
	u.Count++
	u.Bytes += bytes
	cp := *u
	return &cp, nil
}

func (r *fakeUsageRepo) Increment(ctx context.Context, accountID primitive.ObjectID, month string, bytes int64) (*domain.Usage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := usageKey(accountID, month)
	u, ok := r.counters[key]
	if !ok {
		u = &domain.Usage{AccountID: accountID, Month: month}
		r.counters[key] = u
	}
	u.Count++
	u.Bytes += bytes
	cp := *u
	return &cp, nil
}

func (r *fakeUsageRepo) Decrement(ctx context.Context, accountID primitive.ObjectID, month string, bytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.counters[usageKey(accountID, month)]; ok {
		u.Count--
		u.Bytes -= bytes
	}
	return nil
}

type fakeStorage struct {
	mu      sync.Mutex
	deleted []string
}

func (s *fakeStorage) GeneratePresignedUploadURL(ctx context.Context, objectKey string, contentType string, expires time.Duration) (string, error) {
	return fmt.Sprintf("https://s3.test/%s?verb=put", objectKey), nil
}

func (s *fakeStorage) GeneratePresignedDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	return fmt.Sprintf("https://s3.test/%s?verb=get", objectKey), nil
}

func (s *fakeStorage) DeleteObject(ctx context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, objectKey)
	return nil
}

// --- harness ---

type testEnv struct {
	accounts  *fakeAccountRepo
	sessions  *fakeSessionRepo
	artifacts *fakeArtifactRepo
	usage     *fakeUsageRepo
	storage   *fakeStorage
	uploads   UploadService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		accounts:  newFakeAccountRepo(),
		sessions:  newFakeSessionRepo(),
		artifacts: newFakeArtifactRepo(),
		usage:     newFakeUsageRepo(),
		storage:   &fakeStorage{},
	}
	env.uploads = NewUploadService(env.accounts, env.sessions, env.artifacts, env.usage, env.storage, UploadLimits{
		MaxFileSize:      10 * 1024 * 1024,
		AllowedMimeTypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		MaxRetries:       3,
		URLExpiry:        15 * time.Minute,
		Quota:            testLimits,
	})
	return env
}

func (e *testEnv) addAccount(plan domain.Plan) primitive.ObjectID {
	account := &domain.Account{
		Email:        fmt.Sprintf("%s@example.com", primitive.NewObjectID().Hex()),
		PasswordHash: "x",
		Plan:         plan,
	}
	id, _ := e.accounts.Create(context.Background(), account)
	return id
}
