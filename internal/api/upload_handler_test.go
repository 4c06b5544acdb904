package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"pixbin/image-app/internal/domain"
	"pixbin/image-app/internal/service"
	"testing"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// stubUploadService lets each test script the service outcomes.
type stubUploadService struct {
	beginFn    func(ctx context.Context, accountID primitive.ObjectID, fileName string, declaredSize int64, mimeType string) (*service.BeginSessionResult, error)
	completeFn func(ctx context.Context, accountID, sessionID primitive.ObjectID, contentHash string, width, height int) (*service.CompletionResult, error)
	progressFn func(ctx context.Context, accountID, sessionID primitive.ObjectID) (*service.ProgressSnapshot, error)
}

func (s *stubUploadService) BeginSession(ctx context.Context, accountID primitive.ObjectID, fileName string, declaredSize int64, mimeType string) (*service.BeginSessionResult, error) {
	return s.beginFn(ctx, accountID, fileName, declaredSize, mimeType)
}

func (s *stubUploadService) CompleteSession(ctx context.Context, accountID, sessionID primitive.ObjectID, contentHash string, width, height int) (*service.CompletionResult, error) {
	return s.completeFn(ctx, accountID, sessionID, contentHash, width, height)
}

func (s *stubUploadService) GetProgress(ctx context.Context, accountID, sessionID primitive.ObjectID) (*service.ProgressSnapshot, error) {
	return s.progressFn(ctx, accountID, sessionID)
}

func (s *stubUploadService) ReportProgress(ctx context.Context, accountID, sessionID primitive.ObjectID, bytesUploaded int64) error {
	return nil
}

func (s *stubUploadService) CurrentQuota(ctx context.Context, accountID primitive.ObjectID) (*service.QuotaSnapshot, error) {
	return &service.QuotaSnapshot{Plan: domain.PlanFree, Limit: 10}, nil
}

func (s *stubUploadService) ValidateFile(fileName string, declaredSize int64, mimeType string) error {
	return nil
}

type stubBatchService struct {
	submitFn func(ctx context.Context, accountID primitive.ObjectID, files []service.BatchFile) (*service.BatchResult, error)
}

func (s *stubBatchService) SubmitBatch(ctx context.Context, accountID primitive.ObjectID, files []service.BatchFile) (*service.BatchResult, error) {
	return s.submitFn(ctx, accountID, files)
}

// newTestRouter wires the upload routes behind a middleware that injects
// the given account, standing in for a verified JWT.
func newTestRouter(uploads service.UploadService, batch service.BatchService, accountID primitive.ObjectID, authenticated bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handler := NewUploadHandler(uploads, batch)
	group := router.Group("/api/v1")
	group.Use(func(c *gin.Context) {
		if authenticated {
			c.Set(ContextAccountIDKey, accountID.Hex())
		}
		c.Next()
	})
	group.POST("/upload/init", handler.InitUpload)
	group.POST("/upload/:sessionId/complete", handler.CompleteUpload)
	group.GET("/upload/:sessionId/progress", handler.GetProgress)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestInitUploadSuccess(t *testing.T) {
	accountID := primitive.NewObjectID()
	sessionID := primitive.NewObjectID()
	uploads := &stubUploadService{
		beginFn: func(ctx context.Context, gotAccount primitive.ObjectID, fileName string, declaredSize int64, mimeType string) (*service.BeginSessionResult, error) {
			if gotAccount != accountID {
				t.Errorf("account = %s, want %s", gotAccount.Hex(), accountID.Hex())
			}
			return &service.BeginSessionResult{
				SessionID: sessionID,
				UploadURL: "https://s3.test/uploads/x.png?verb=put",
				ObjectKey: "uploads/x.png",
				Quota:     service.QuotaSnapshot{Plan: domain.PlanFree, Limit: 10, Used: 1, Remaining: 9},
			}, nil
		},
	}
	router := newTestRouter(uploads, &stubBatchService{}, accountID, true)

	w := doJSON(t, router, http.MethodPost, "/api/v1/upload/init", gin.H{
		"filename": "x.png", "fileSize": 1024, "mimeType": "image/png",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	var resp service.BeginSessionResult
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID != sessionID || resp.UploadURL == "" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestInitUploadUnauthenticated(t *testing.T) {
	router := newTestRouter(&stubUploadService{}, &stubBatchService{}, primitive.NewObjectID(), false)

	w := doJSON(t, router, http.MethodPost, "/api/v1/upload/init", gin.H{
		"filename": "x.png", "fileSize": 1024, "mimeType": "image/png",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestInitUploadQuotaExceeded(t *testing.T) {
	accountID := primitive.NewObjectID()
	uploads := &stubUploadService{
		beginFn: func(ctx context.Context, _ primitive.ObjectID, _ string, _ int64, _ string) (*service.BeginSessionResult, error) {
			return nil, &service.QuotaExceededError{Snapshot: service.QuotaSnapshot{
				Plan: domain.PlanFree, Limit: 10, Used: 10, Remaining: 0,
			}}
		},
	}
	router := newTestRouter(uploads, &stubBatchService{}, accountID, true)

	w := doJSON(t, router, http.MethodPost, "/api/v1/upload/init", gin.H{
		"filename": "x.png", "fileSize": 1024, "mimeType": "image/png",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["limit"] != float64(10) || payload["used"] != float64(10) || payload["remaining"] != float64(0) {
		t.Errorf("quota payload missing usage snapshot: %v", payload)
	}
	if payload["upgrade"] == "" {
		t.Error("quota payload must carry an upgrade hint")
	}
}

func TestInitUploadFileTooLarge(t *testing.T) {
	accountID := primitive.NewObjectID()
	uploads := &stubUploadService{
		beginFn: func(ctx context.Context, _ primitive.ObjectID, _ string, _ int64, _ string) (*service.BeginSessionResult, error) {
			return nil, service.ErrFileTooLarge
		},
	}
	router := newTestRouter(uploads, &stubBatchService{}, accountID, true)

	w := doJSON(t, router, http.MethodPost, "/api/v1/upload/init", gin.H{
		"filename": "huge.png", "fileSize": 99999999, "mimeType": "image/png",
	})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestInitUploadBatchDispatch(t *testing.T) {
	accountID := primitive.NewObjectID()
	called := false
	batch := &stubBatchService{
		submitFn: func(ctx context.Context, _ primitive.ObjectID, files []service.BatchFile) (*service.BatchResult, error) {
			called = true
			if len(files) != 2 {
				t.Errorf("files = %d, want 2", len(files))
			}
			return &service.BatchResult{SuccessCount: 2}, nil
		},
	}
	router := newTestRouter(&stubUploadService{}, batch, accountID, true)

	w := doJSON(t, router, http.MethodPost, "/api/v1/upload/init", gin.H{
		"files": []gin.H{
			{"filename": "a.png", "fileSize": 100, "mimeType": "image/png"},
			{"filename": "b.png", "fileSize": 200, "mimeType": "image/png"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if !called {
		t.Error("batch service was not invoked for a files payload")
	}
}

func TestInitUploadBatchValidationPayload(t *testing.T) {
	accountID := primitive.NewObjectID()
	batch := &stubBatchService{
		submitFn: func(ctx context.Context, _ primitive.ObjectID, _ []service.BatchFile) (*service.BatchResult, error) {
			return nil, &service.BatchValidationError{Errors: []service.FileValidationError{
				{Index: 1, FileName: "b.bin", Reason: "file type is not allowed"},
			}}
		},
	}
	router := newTestRouter(&stubUploadService{}, batch, accountID, true)

	w := doJSON(t, router, http.MethodPost, "/api/v1/upload/init", gin.H{
		"files": []gin.H{{"filename": "b.bin", "fileSize": 100, "mimeType": "application/octet-stream"}},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	var payload struct {
		Errors []service.FileValidationError `json:"errors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.Errors) != 1 || payload.Errors[0].FileName != "b.bin" {
		t.Errorf("per-file errors missing: %s", w.Body.String())
	}
}

func TestCompleteUploadStatuses(t *testing.T) {
	accountID := primitive.NewObjectID()
	sessionID := primitive.NewObjectID()
	artifactID := primitive.NewObjectID()

	cases := []struct {
		name       string
		result     *service.CompletionResult
		err        error
		wantStatus int
	}{
		{
			name: "new artifact",
			result: &service.CompletionResult{
				Artifact: service.ArtifactRef{ArtifactID: artifactID, ShortID: "Ab3xYz"},
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "duplicate",
			result: &service.CompletionResult{
				Artifact:  service.ArtifactRef{ArtifactID: artifactID, ShortID: "Ab3xYz"},
				Duplicate: true,
			},
			wantStatus: http.StatusOK,
		},
		{name: "unknown session", err: service.ErrSessionNotFound, wantStatus: http.StatusNotFound},
		{name: "already completed", err: service.ErrAlreadyCompleted, wantStatus: http.StatusBadRequest},
		{name: "retries exhausted", err: service.ErrMaxRetriesExceeded, wantStatus: http.StatusForbidden},
		{name: "transient failure", err: &service.TransientError{RetryCount: 1}, wantStatus: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uploads := &stubUploadService{
				completeFn: func(ctx context.Context, _, _ primitive.ObjectID, _ string, _, _ int) (*service.CompletionResult, error) {
					return tc.result, tc.err
				},
			}
			router := newTestRouter(uploads, &stubBatchService{}, accountID, true)

			w := doJSON(t, router, http.MethodPost, "/api/v1/upload/"+sessionID.Hex()+"/complete", gin.H{
				"contentHash": "abc123", "width": 800, "height": 600,
			})
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tc.wantStatus, w.Body.String())
			}

			if tc.err == nil {
				var resp CompleteUploadResponse
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				if resp.Link != "/i/Ab3xYz" {
					t.Errorf("link = %q, want /i/Ab3xYz", resp.Link)
				}
				if resp.Duplicate != (tc.wantStatus == http.StatusOK) {
					t.Errorf("duplicate flag = %v for status %d", resp.Duplicate, tc.wantStatus)
				}
			}

			var payload map[string]any
			if tc.name == "transient failure" {
				if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
					t.Fatalf("decode payload: %v", err)
				}
				if payload["retryable"] != true {
					t.Errorf("transient failure must be flagged retryable: %v", payload)
				}
			}
		})
	}
}

func TestCompleteUploadMissingHash(t *testing.T) {
	router := newTestRouter(&stubUploadService{}, &stubBatchService{}, primitive.NewObjectID(), true)

	w := doJSON(t, router, http.MethodPost, "/api/v1/upload/"+primitive.NewObjectID().Hex()+"/complete", gin.H{
		"width": 800, "height": 600,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetProgress(t *testing.T) {
	accountID := primitive.NewObjectID()
	sessionID := primitive.NewObjectID()
	uploads := &stubUploadService{
		progressFn: func(ctx context.Context, _, _ primitive.ObjectID) (*service.ProgressSnapshot, error) {
			return &service.ProgressSnapshot{
				Status:        domain.SessionUploading,
				BytesUploaded: 512,
				TotalBytes:    1024,
				Percentage:    50,
			}, nil
		},
	}
	router := newTestRouter(uploads, &stubBatchService{}, accountID, true)

	w := doJSON(t, router, http.MethodGet, "/api/v1/upload/"+sessionID.Hex()+"/progress", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var snapshot service.ProgressSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.Percentage != 50 || snapshot.Status != domain.SessionUploading {
		t.Errorf("unexpected snapshot: %+v", snapshot)
	}
}

func TestGetProgressMalformedSessionID(t *testing.T) {
	router := newTestRouter(&stubUploadService{}, &stubBatchService{}, primitive.NewObjectID(), true)

	w := doJSON(t, router, http.MethodGet, "/api/v1/upload/not-an-id/progress", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
