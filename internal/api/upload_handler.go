package api

import (
	"errors"
	"net/http"
	"pixbin/image-app/internal/service"
	"pixbin/image-app/internal/shortid"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type UploadHandler struct {
	uploadService service.UploadService
	batchService  service.BatchService
}

func NewUploadHandler(uploadService service.UploadService, batchService service.BatchService) *UploadHandler {
	return &UploadHandler{
		uploadService: uploadService,
		batchService:  batchService,
	}
}

// --- DTOs ---

// InitUploadRequest covers both the single-file and the batch form of
// /upload/init. Exactly one of (filename, fileSize, mimeType) or files
// should be supplied.
type InitUploadRequest struct {
	FileName string              `json:"filename"`
	FileSize int64               `json:"fileSize"`
	MimeType string              `json:"mimeType"`
	Files    []service.BatchFile `json:"files"`
}

type CompleteUploadRequest struct {
	ContentHash string `json:"contentHash" binding:"required"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

type ReportProgressRequest struct {
	BytesUploaded *int64 `json:"bytesUploaded" binding:"required"`
}

type CompleteUploadResponse struct {
	ArtifactID string                `json:"artifactId"`
	ShortID    string                `json:"shortId"`
	Link       string                `json:"link"`
	Duplicate  bool                  `json:"duplicate"`
	Quota      service.QuotaSnapshot `json:"quota"`
}

// --- Handler Methods ---

// InitUpload godoc
// @Summary Start one or more upload sessions
// @Description Validates the declared file(s), checks the monthly quota, and returns presigned upload targets.
// @Tags Upload
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body InitUploadRequest true "Single file or batch"
// @Success 200 {object} service.BatchResult "Upload target(s) and quota snapshot"
// @Failure 400 {object} gin.H "Validation failure"
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 403 {object} gin.H "Quota exceeded"
// @Failure 413 {object} gin.H "File exceeds maximum size"
// @Router /upload/init [post]
func (h *UploadHandler) InitUpload(c *gin.Context) {
	accountID, ok := accountIDOrAbort(c)
	if !ok {
		return
	}

	var req InitUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if len(req.Files) > 0 {
		h.initBatch(c, accountID, req.Files)
		return
	}

	result, err := h.uploadService.BeginSession(c.Request.Context(), accountID, req.FileName, req.FileSize, req.MimeType)
	if err != nil {
		respondUploadError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *UploadHandler) initBatch(c *gin.Context, accountID primitive.ObjectID, files []service.BatchFile) {
	result, err := h.batchService.SubmitBatch(c.Request.Context(), accountID, files)
	if err != nil {
		var batchErr *service.BatchValidationError
		if errors.As(err, &batchErr) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":  "batch validation failed",
				"errors": batchErr.Errors,
			})
			return
		}
		if errors.Is(err, service.ErrEmptyBatch) || errors.Is(err, service.ErrBatchTooLarge) {
			abortWithError(c, http.StatusBadRequest, err.Error())
			return
		}
		respondUploadError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CompleteUpload godoc
// @Summary Complete an upload session
// @Description Commits the uploaded object as an artifact. Resubmitting already-committed content resolves to the existing artifact.
// @Tags Upload
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Upload session ID"
// @Param request body CompleteUploadRequest true "Content hash and dimensions"
// @Success 200 {object} CompleteUploadResponse "Duplicate content resolved to the existing artifact"
// @Success 201 {object} CompleteUploadResponse "New artifact created"
// @Failure 400 {object} gin.H "Missing fields or session already completed"
// @Failure 403 {object} gin.H "Quota exceeded or retry budget exhausted"
// @Failure 404 {object} gin.H "Unknown session"
// @Failure 500 {object} gin.H "Storage failure (may be retryable)"
// @Router /upload/{sessionId}/complete [post]
func (h *UploadHandler) CompleteUpload(c *gin.Context) {
	accountID, ok := accountIDOrAbort(c)
	if !ok {
		return
	}

	sessionID, err := primitive.ObjectIDFromHex(c.Param("sessionId"))
	if err != nil {
		abortWithError(c, http.StatusNotFound, "Unknown upload session.")
		return
	}

	var req CompleteUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.uploadService.CompleteSession(c.Request.Context(), accountID, sessionID, req.ContentHash, req.Width, req.Height)
	if err != nil {
		respondUploadError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, CompleteUploadResponse{
		ArtifactID: result.Artifact.ArtifactID.Hex(),
		ShortID:    result.Artifact.ShortID,
		Link:       "/i/" + result.Artifact.ShortID,
		Duplicate:  result.Duplicate,
		Quota:      result.Quota,
	})
}

// GetProgress godoc
// @Summary Read upload progress
// @Description Returns the session's status, byte progress, and retry count. Pure read.
// @Tags Upload
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Upload session ID"
// @Success 200 {object} service.ProgressSnapshot "Progress snapshot"
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 404 {object} gin.H "Unknown session"
// @Router /upload/{sessionId}/progress [get]
func (h *UploadHandler) GetProgress(c *gin.Context) {
	accountID, ok := accountIDOrAbort(c)
	if !ok {
		return
	}

	sessionID, err := primitive.ObjectIDFromHex(c.Param("sessionId"))
	if err != nil {
		abortWithError(c, http.StatusNotFound, "Unknown upload session.")
		return
	}

	snapshot, err := h.uploadService.GetProgress(c.Request.Context(), accountID, sessionID)
	if err != nil {
		respondUploadError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// ReportProgress godoc
// @Summary Report upload progress
// @Description Out-of-band byte-progress report from the client. The stored value never decreases.
// @Tags Upload
// @Accept json
// @Security BearerAuth
// @Param sessionId path string true "Upload session ID"
// @Param request body ReportProgressRequest true "Bytes uploaded so far"
// @Success 204 "Recorded"
// @Failure 400 {object} gin.H "Invalid body or session already completed"
// @Failure 404 {object} gin.H "Unknown session"
// @Router /upload/{sessionId}/progress [patch]
func (h *UploadHandler) ReportProgress(c *gin.Context) {
	accountID, ok := accountIDOrAbort(c)
	if !ok {
		return
	}

	sessionID, err := primitive.ObjectIDFromHex(c.Param("sessionId"))
	if err != nil {
		abortWithError(c, http.StatusNotFound, "Unknown upload session.")
		return
	}

	var req ReportProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.BytesUploaded == nil {
		abortWithError(c, http.StatusBadRequest, "bytesUploaded is required.")
		return
	}

	if err := h.uploadService.ReportProgress(c.Request.Context(), accountID, sessionID, *req.BytesUploaded); err != nil {
		respondUploadError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- shared error mapping ---

// respondUploadError maps service errors from the upload engine onto the
// HTTP contract.
func respondUploadError(c *gin.Context, err error) {
	var quotaErr *service.QuotaExceededError
	if errors.As(err, &quotaErr) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":     "monthly upload quota exceeded",
			"plan":      quotaErr.Snapshot.Plan,
			"limit":     quotaErr.Snapshot.Limit,
			"used":      quotaErr.Snapshot.Used,
			"remaining": quotaErr.Snapshot.Remaining,
			"upgrade":   "Upgrade your plan to raise the monthly upload limit.",
		})
		return
	}

	var transient *service.TransientError
	if errors.As(err, &transient) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":      "temporary storage failure, please retry",
			"retryable":  true,
			"retryCount": transient.RetryCount,
		})
		return
	}

	switch {
	case errors.Is(err, service.ErrFileTooLarge):
		abortWithError(c, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrUnsupportedMime),
		errors.Is(err, service.ErrInvalidFileName),
		errors.Is(err, service.ErrMissingContentHash),
		errors.Is(err, service.ErrAlreadyCompleted):
		abortWithError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		abortWithError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrMaxRetriesExceeded):
		abortWithError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrAccountNotFound):
		abortWithError(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, shortid.ErrExhausted):
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     err.Error(),
			"retryable": false,
		})
	default:
		abortWithError(c, http.StatusInternalServerError, "Internal server error.")
	}
}

// accountIDOrAbort resolves the authenticated account from the request
// context, aborting with 401 when absent or malformed.
func accountIDOrAbort(c *gin.Context) (primitive.ObjectID, bool) {
	idStr, err := getAccountIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify account.")
		return primitive.NilObjectID, false
	}
	accountID, err := primitive.ObjectIDFromHex(idStr)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Invalid account ID in token.")
		return primitive.NilObjectID, false
	}
	return accountID, true
}
