package sessions

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/podrec/backend/internal/middleware"
	"github.com/podrec/backend/internal/models"
	"github.com/podrec/backend/pkg/response"
)

// Store is the persistence surface the session handler needs.
type Store interface {
	Create(ctx context.Context, title string, hostID uuid.UUID) (*models.Session, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.SessionWithParticipants, error)
	AddParticipant(ctx context.Context, sessionID uuid.UUID, displayName string, userID *uuid.UUID, isHost bool) (*models.Participant, error)
	Update(ctx context.Context, id uuid.UUID, title, status *string) (*models.Session, error)
	End(ctx context.Context, id uuid.UUID) (session *models.Session, ended bool, err error)
}

// Enqueuer enqueues the assembly job fired on session end.
type Enqueuer interface {
	EnqueueProcessSession(ctx context.Context, sessionID uuid.UUID) error
}

// CreateRequest is the body for POST /api/sessions.
type CreateRequest struct {
	Title string `json:"title" binding:"required"`
}

// JoinRequest is the body for POST /api/sessions/:id/join.
type JoinRequest struct {
	DisplayName string  `json:"displayName" binding:"required"`
	UserID      *string `json:"userId"`
}

// UpdateRequest is the body for PUT /api/sessions/:id.
type UpdateRequest struct {
	Title  *string `json:"title"`
	Status *string `json:"status" binding:"omitempty,oneof=active ended"`
}

// Handler handles session HTTP endpoints.
type Handler struct {
	store  Store
	queue  Enqueuer
	logger *zap.Logger
}

// NewHandler creates a session handler.
func NewHandler(store Store, queue Enqueuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, queue: queue, logger: logger}
}

// Create handles POST /api/sessions. The authenticated user becomes the host;
// the host participant row is created atomically with the session.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "title is required")
		return
	}
	hostID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	s, err := h.store.Create(c.Request.Context(), req.Title, hostID)
	if err != nil {
		h.logger.Error("create session failed", zap.Error(err))
		response.Internal(c, "failed to create session")
		return
	}
	response.Created(c, s)
}

// GetByID handles GET /api/sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "failed to retrieve session")
		return
	}
	response.OK(c, s)
}

// Join handles POST /api/sessions/:id/join. Anonymous joins (no userId) are allowed.
func (h *Handler) Join(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "displayName is required")
		return
	}
	var userID *uuid.UUID
	if req.UserID != nil && *req.UserID != "" {
		uid, err := uuid.Parse(*req.UserID)
		if err != nil {
			response.BadRequest(c, "invalid userId")
			return
		}
		userID = &uid
	}

	p, err := h.store.AddParticipant(c.Request.Context(), id, req.DisplayName, userID, false)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		h.logger.Error("join session failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to join session")
		return
	}
	response.Created(c, p)
}

// Update handles PUT /api/sessions/:id.
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, err := h.store.Update(c.Request.Context(), id, req.Title, req.Status)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "failed to update session")
		return
	}
	response.OK(c, s)
}

// End handles DELETE /api/sessions/:id. On the active->ended transition it
// enqueues exactly one process-session job; re-ending is a no-op.
func (h *Handler) End(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, ended, err := h.store.End(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "failed to end session")
		return
	}
	if ended {
		if err := h.queue.EnqueueProcessSession(c.Request.Context(), id); err != nil {
			h.logger.Error("enqueue process-session failed", zap.Error(err), zap.String("session_id", id.String()))
			response.Internal(c, "failed to enqueue processing job")
			return
		}
		h.logger.Info("process-session job enqueued", zap.String("session_id", id.String()))
	}
	response.OK(c, s)
}
