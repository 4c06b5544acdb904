package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// --- Error Definitions ---
var (
	ErrEmptyBatch    = errors.New("batch contains no files")
	ErrBatchTooLarge = errors.New("batch exceeds the maximum number of files")
)

// FileValidationError describes why one file in a batch failed static
// validation.
type FileValidationError struct {
	Index    int    `json:"index"`
	FileName string `json:"fileName"`
	Reason   string `json:"reason"`
}

// BatchValidationError rejects a whole batch: if any file fails static
// validation the batch is not partially processed with known-bad entries.
type BatchValidationError struct {
	Errors []FileValidationError
}

func (e *BatchValidationError) Error() string {
	return fmt.Sprintf("batch validation failed for %d file(s)", len(e.Errors))
}

// BatchFile is one file in a multi-file init request.
type BatchFile struct {
	FileName string `json:"filename"`
	Size     int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

// BatchFileStatus is the per-file outcome inside a batch.
type BatchFileStatus string

const (
	BatchFileCreated BatchFileStatus = "created"
	BatchFileSkipped BatchFileStatus = "skipped"
	BatchFileFailed  BatchFileStatus = "failed"
)

// BatchFileResult is one file's outcome, in submission order.
type BatchFileResult struct {
	FileName  string              `json:"fileName"`
	Status    BatchFileStatus     `json:"status"`
	SessionID *primitive.ObjectID `json:"sessionId,omitempty"`
	UploadURL string              `json:"uploadUrl,omitempty"`
	ObjectKey string              `json:"objectKey,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// BatchResult aggregates a batch submission. When the batch was capped to
// the remaining quota, PartialSuccess is set and the dropped files appear
// as skipped results rather than being silently ignored.
type BatchResult struct {
	Results        []BatchFileResult `json:"results"`
	SuccessCount   int               `json:"successCount"`
	FailedCount    int               `json:"failedCount"`
	SkippedCount   int               `json:"skippedCount"`
	PartialSuccess bool              `json:"partialSuccess"`
	Warning        string            `json:"warning,omitempty"`
	Quota          QuotaSnapshot     `json:"quota"`
}

// BatchService fans a multi-file request out over the upload service.
type BatchService interface {
	SubmitBatch(ctx context.Context, accountID primitive.ObjectID, files []BatchFile) (*BatchResult, error)
}

// --- Service Implementation ---

type batchService struct {
	uploads      UploadService
	maxBatchSize int
}

// NewBatchService creates a new instance of batchService.
func NewBatchService(uploads UploadService, maxBatchSize int) BatchService {
	if maxBatchSize <= 0 {
		maxBatchSize = 50
	}
	return &batchService{
		uploads:      uploads,
		maxBatchSize: maxBatchSize,
	}
}

// SubmitBatch processes a multi-file init request: one quota read for the
// whole batch, capping to the remaining allowance, up-front validation of
// every file, then concurrent independent session creation.
func (s *batchService) SubmitBatch(ctx context.Context, accountID primitive.ObjectID, files []BatchFile) (*BatchResult, error) {
	if len(files) == 0 {
		return nil, ErrEmptyBatch
	}
	// Oversized batches are rejected outright, not truncated.
	if len(files) > s.maxBatchSize {
		return nil, ErrBatchTooLarge
	}

	snapshot, err := s.uploads.CurrentQuota(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !snapshot.Unlimited && snapshot.Remaining <= 0 {
		return nil, &QuotaExceededError{Snapshot: *snapshot}
	}

	// Cap to the remaining allowance, keeping submission order. Dropped
	// files are enumerated in the response.
	attempt := files
	var skipped []BatchFile
	partial := false
	warning := ""
	if !snapshot.Unlimited && int64(len(files)) > snapshot.Remaining {
		attempt = files[:snapshot.Remaining]
		skipped = files[snapshot.Remaining:]
		partial = true
		warning = fmt.Sprintf("%d of %d files were dropped: only %d upload(s) remain in this month's quota",
			len(skipped), len(files), snapshot.Remaining)
	}

	// Validate everything that will be attempted before creating any
	// session.
	var validationErrs []FileValidationError
	for i, f := range attempt {
		if err := s.uploads.ValidateFile(f.FileName, f.Size, f.MimeType); err != nil {
			validationErrs = append(validationErrs, FileValidationError{
				Index:    i,
				FileName: f.FileName,
				Reason:   err.Error(),
			})
		}
	}
	if len(validationErrs) > 0 {
		return nil, &BatchValidationError{Errors: validationErrs}
	}

	// Process files concurrently and independently: one file's failure
	// must not abort its siblings.
	results := make([]BatchFileResult, len(attempt))
	var wg sync.WaitGroup
	for i := range attempt {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := attempt[i]
			begin, err := s.uploads.BeginSession(ctx, accountID, f.FileName, f.Size, f.MimeType)
			if err != nil {
				results[i] = BatchFileResult{
					FileName: f.FileName,
					Status:   BatchFileFailed,
					Error:    err.Error(),
				}
				return
			}
			results[i] = BatchFileResult{
				FileName:  f.FileName,
				Status:    BatchFileCreated,
				SessionID: &begin.SessionID,
				UploadURL: begin.UploadURL,
				ObjectKey: begin.ObjectKey,
			}
		}(i)
	}
	wg.Wait()

	successCount := 0
	failedCount := 0
	for _, r := range results {
		if r.Status == BatchFileCreated {
			successCount++
		} else {
			failedCount++
		}
	}
	for _, f := range skipped {
		results = append(results, BatchFileResult{
			FileName: f.FileName,
			Status:   BatchFileSkipped,
			Error:    "dropped: monthly quota remaining is lower than the batch size",
		})
	}

	// Report the quota as it stands with the successful sessions reserved
	// against it.
	final := *snapshot
	if !final.Unlimited {
		final.Used += int64(successCount)
		if final.Used > final.Limit {
			final.Used = final.Limit
		}
		final.Remaining = final.Limit - final.Used
		if final.Remaining < 0 {
			final.Remaining = 0
		}
	}

	return &BatchResult{
		Results:        results,
		SuccessCount:   successCount,
		FailedCount:    failedCount,
		SkippedCount:   len(skipped),
		PartialSuccess: partial,
		Warning:        warning,
		Quota:          final,
	}, nil
}
