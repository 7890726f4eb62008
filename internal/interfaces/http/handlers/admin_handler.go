package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/interfaces/http/response"
	"custody.backend/internal/usecases"
)

type flagService interface {
	Snapshot(ctx context.Context) ([]*entities.SystemFlag, error)
	SetLocked(ctx context.Context, key string, locked bool) error
}

type reconcileService interface {
	Run(ctx context.Context) (*entities.ReconciliationRecord, error)
}

// AdminHandler exposes operator endpoints
type AdminHandler struct {
	flags      flagService
	reconciler reconcileService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(flags *usecases.FlagService, reconciler *usecases.ReconciliationUsecase) *AdminHandler {
	return &AdminHandler{flags: flags, reconciler: reconciler}
}

// ListFlags
// GET /api/v1/admin/flags
func (h *AdminHandler) ListFlags(c *gin.Context) {
	flags, err := h.flags.Snapshot(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"flags": flags})
}

type setFlagRequest struct {
	Locked *bool `json:"locked" binding:"required"`
}

// SetFlag forces a lock on or off until the next reconciliation pass
// PUT /api/v1/admin/flags/:key
func (h *AdminHandler) SetFlag(c *gin.Context) {
	key := c.Param("key")
	known := false
	for _, k := range usecases.LockFlags {
		if k == key {
			known = true
			break
		}
	}
	if !known {
		response.Error(c, domainerrors.NotFound("Unknown flag"))
		return
	}

	var req setFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	if err := h.flags.SetLocked(c.Request.Context(), key, *req.Locked); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"key": key, "locked": *req.Locked})
}

// Reconcile runs a solvency check now
// POST /api/v1/admin/reconcile
func (h *AdminHandler) Reconcile(c *gin.Context) {
	rec, err := h.reconciler.Run(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reconciliation": rec})
}
