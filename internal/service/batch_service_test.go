package service

import (
	"context"
	"errors"
	"fmt"
	"pixbin/image-app/internal/domain"
	"testing"
)

func newBatchEnv() (*testEnv, BatchService) {
	env := newTestEnv()
	return env, NewBatchService(env.uploads, 50)
}

func pngFiles(n int) []BatchFile {
	files := make([]BatchFile, n)
	for i := range files {
		files[i] = BatchFile{
			FileName: fmt.Sprintf("photo-%02d.png", i),
			Size:     1024,
			MimeType: "image/png",
		}
	}
	return files
}

func TestSubmitBatchRejectsOversizedBatch(t *testing.T) {
	env, batch := newBatchEnv()
	accountID := env.addAccount(domain.PlanFree)

	_, err := batch.SubmitBatch(context.Background(), accountID, pngFiles(51))
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("expected ErrBatchTooLarge, got %v", err)
	}

	_, err = batch.SubmitBatch(context.Background(), accountID, nil)
	if !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestSubmitBatchQuotaDenied(t *testing.T) {
	env, batch := newBatchEnv()
	accountID := env.addAccount(domain.PlanFree)
	env.usage.seed(accountID, currentMonth(), 10, 0)

	_, err := batch.SubmitBatch(context.Background(), accountID, pngFiles(2))
	var quotaErr *QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if quotaErr.Snapshot.Remaining != 0 {
		t.Errorf("denial snapshot remaining = %d, want 0", quotaErr.Snapshot.Remaining)
	}
}

func TestSubmitBatchValidationRejectsWholeBatch(t *testing.T) {
	env, batch := newBatchEnv()
	accountID := env.addAccount(domain.PlanFree)

	files := pngFiles(3)
	files[1].MimeType = "application/zip"
	files[2].Size = 20 * 1024 * 1024

	_, err := batch.SubmitBatch(context.Background(), accountID, files)
	var batchErr *BatchValidationError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected BatchValidationError, got %v", err)
	}
	if len(batchErr.Errors) != 2 {
		t.Fatalf("expected 2 per-file errors, got %d", len(batchErr.Errors))
	}
	if batchErr.Errors[0].Index != 1 || batchErr.Errors[1].Index != 2 {
		t.Errorf("unexpected error indices: %+v", batchErr.Errors)
	}

	// Nothing may have been processed alongside known-bad entries.
	if env.sessions.count() != 0 {
		t.Errorf("expected no sessions, got %d", env.sessions.count())
	}
}

func TestSubmitBatchFullSuccess(t *testing.T) {
	env, batch := newBatchEnv()
	accountID := env.addAccount(domain.PlanFree)

	result, err := batch.SubmitBatch(context.Background(), accountID, pngFiles(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuccessCount != 4 || result.FailedCount != 0 || result.SkippedCount != 0 {
		t.Errorf("counts = %d/%d/%d, want 4/0/0", result.SuccessCount, result.FailedCount, result.SkippedCount)
	}
	if result.PartialSuccess {
		t.Error("full success must not be flagged partial")
	}
	for i, r := range result.Results {
		if r.Status != BatchFileCreated {
			t.Errorf("file %d status = %s, want created", i, r.Status)
		}
		if r.SessionID == nil || r.UploadURL == "" {
			t.Errorf("file %d missing upload handle: %+v", i, r)
		}
	}
	// Results keep submission order.
	if result.Results[0].FileName != "photo-00.png" || result.Results[3].FileName != "photo-03.png" {
		t.Error("results out of submission order")
	}
}

func TestSubmitBatchCapsToRemainingQuota(t *testing.T) {
	env, batch := newBatchEnv()
	accountID := env.addAccount(domain.PlanFree)
	// remaining = 3, batch of 8
	env.usage.seed(accountID, currentMonth(), 7, 0)

	result, err := batch.SubmitBatch(context.Background(), accountID, pngFiles(8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.PartialSuccess {
		t.Error("capped batch must be flagged partial")
	}
	if result.Warning == "" {
		t.Error("capped batch must carry a warning")
	}
	if result.SuccessCount > 3 {
		t.Errorf("successCount = %d, want at most 3", result.SuccessCount)
	}
	if result.SkippedCount != 5 {
		t.Errorf("skippedCount = %d, want 5", result.SkippedCount)
	}

	// Exactly the first three files (in submission order) were attempted.
	for i := 0; i < 3; i++ {
		want := fmt.Sprintf("photo-%02d.png", i)
		if result.Results[i].FileName != want || result.Results[i].Status != BatchFileCreated {
			t.Errorf("result %d = %+v, want created %s", i, result.Results[i], want)
		}
	}
	// Dropped files are enumerated, not silently ignored.
	for i := 3; i < 8; i++ {
		if result.Results[i].Status != BatchFileSkipped {
			t.Errorf("result %d status = %s, want skipped", i, result.Results[i].Status)
		}
		if result.Results[i].Error == "" {
			t.Errorf("skipped result %d must say why", i)
		}
	}

	if result.Quota.Remaining != 0 {
		t.Errorf("post-batch remaining = %d, want 0", result.Quota.Remaining)
	}
}

func TestSubmitBatchUnmeteredNeverCapped(t *testing.T) {
	env, batch := newBatchEnv()
	accountID := env.addAccount(domain.PlanTeam)
	env.usage.seed(accountID, currentMonth(), 9999, 0)

	result, err := batch.SubmitBatch(context.Background(), accountID, pngFiles(20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuccessCount != 20 || result.PartialSuccess {
		t.Errorf("unmetered batch: %d successes, partial=%v", result.SuccessCount, result.PartialSuccess)
	}
	if !result.Quota.Unlimited {
		t.Errorf("expected unlimited snapshot, got %+v", result.Quota)
	}
}
