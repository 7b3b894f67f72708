package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	snapshots "meshpad/internal/infrastructure/backup"
	"meshpad/pkg/backup"
	apperrors "meshpad/pkg/errors"
)

// BackupHandler exposes snapshot listing, on-demand capture, and
// restore. All routes are expected to sit behind the auth and role
// middlewares.
type BackupHandler struct {
	service   *backup.Service
	scheduler *snapshots.Scheduler
	restore   *snapshots.RestoreService
}

func NewBackupHandler(service *backup.Service, scheduler *snapshots.Scheduler, restore *snapshots.RestoreService) *BackupHandler {
	return &BackupHandler{
		service:   service,
		scheduler: scheduler,
		restore:   restore,
	}
}

// ListSnapshots returns the names of all stored snapshots.
func (h *BackupHandler) ListSnapshots(c *gin.Context) {
	names, err := h.service.List(c.Request.Context())
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to list snapshots"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"snapshots": names,
		"count":     len(names),
	})
}

// CreateSnapshot captures room state immediately, outside the schedule.
func (h *BackupHandler) CreateSnapshot(c *gin.Context) {
	name, err := h.scheduler.RunNow(c.Request.Context())
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to create snapshot"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"name": name})
}

type RestoreRequest struct {
	Name      string `json:"name" binding:"required"`
	Overwrite bool   `json:"overwrite"`
}

// RestoreSnapshot writes a stored snapshot's rooms back into the live
// repository.
func (h *BackupHandler) RestoreSnapshot(c *gin.Context) {
	var req RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	if _, err := backup.ParseTimestamp(req.Name); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid snapshot name"))
		return
	}

	restored, err := h.restore.RestoreFromSnapshot(c.Request.Context(), req.Name, snapshots.RestoreOptions{
		OverwriteExisting: req.Overwrite,
	})
	if err != nil {
		c.Error(apperrors.NewInternalError("restore failed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"restored": restored})
}
