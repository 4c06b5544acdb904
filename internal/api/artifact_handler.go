package api

import (
	"errors"
	"net/http"
	"pixbin/image-app/internal/service"

	"github.com/gin-gonic/gin"
)

type ArtifactHandler struct {
	artifactService service.ArtifactService
	uploadService   service.UploadService
}

func NewArtifactHandler(artifactService service.ArtifactService, uploadService service.UploadService) *ArtifactHandler {
	return &ArtifactHandler{
		artifactService: artifactService,
		uploadService:   uploadService,
	}
}

// Resolve godoc
// @Summary Resolve a short link
// @Description Redirects a public short id to a time-boxed download URL for the image.
// @Tags Artifact
// @Param shortId path string true "Short id"
// @Success 302 "Redirect to the image"
// @Failure 404 {object} gin.H "Unknown or expired short id"
// @Router /i/{shortId} [get]
func (h *ArtifactHandler) Resolve(c *gin.Context) {
	url, err := h.artifactService.ResolveShortID(c.Request.Context(), c.Param("shortId"))
	if err != nil {
		if errors.Is(err, service.ErrArtifactNotFound) {
			abortWithError(c, http.StatusNotFound, "Image not found.")
		} else {
			abortWithError(c, http.StatusInternalServerError, "Failed to resolve image.")
		}
		return
	}
	c.Redirect(http.StatusFound, url)
}

// Delete godoc
// @Summary Delete an artifact
// @Description Removes an artifact owned by the caller. Quota usage for the month is not refunded.
// @Tags Artifact
// @Security BearerAuth
// @Param shortId path string true "Short id"
// @Success 204 "Deleted"
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 404 {object} gin.H "Unknown short id or not owned by caller"
// @Router /artifacts/{shortId} [delete]
func (h *ArtifactHandler) Delete(c *gin.Context) {
	accountID, ok := accountIDOrAbort(c)
	if !ok {
		return
	}

	if err := h.artifactService.DeleteArtifact(c.Request.Context(), accountID, c.Param("shortId")); err != nil {
		if errors.Is(err, service.ErrArtifactNotFound) {
			abortWithError(c, http.StatusNotFound, "Image not found.")
		} else {
			abortWithError(c, http.StatusInternalServerError, "Failed to delete image.")
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// GetQuota godoc
// @Summary Current quota snapshot
// @Description Returns the caller's usage for the current calendar month.
// @Tags Quota
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.QuotaSnapshot "Quota snapshot"
// @Failure 401 {object} gin.H "Unauthorized"
// @Router /quota [get]
func (h *ArtifactHandler) GetQuota(c *gin.Context) {
	accountID, ok := accountIDOrAbort(c)
	if !ok {
		return
	}

	snapshot, err := h.uploadService.CurrentQuota(c.Request.Context(), accountID)
	if err != nil {
		respondUploadError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
