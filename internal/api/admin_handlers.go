package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"contractflow/internal/logger"
	"contractflow/internal/models"
	"contractflow/internal/service/users"

	"github.com/gin-gonic/gin"
)

func (h *Handler) adminListUsers(c *gin.Context) {
	list, err := h.users.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

type adminCreateUserRequest struct {
	Email     string      `json:"email" binding:"required,email"`
	Password  string      `json:"password" binding:"required,min=6"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Role      models.Role `json:"role"`
}

func (h *Handler) adminCreateUser(c *gin.Context) {
	actor, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req adminCreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Role != "" && !req.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": users.ErrInvalidRole.Error()})
		return
	}
	user, err := h.users.Create(c.Request.Context(), actor.ID, users.NewUser{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) adminGetUser(c *gin.Context) {
	user, err := h.users.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		writeUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) adminChangeRole(c *gin.Context) {
	actor, ok := h.currentUser(c)
	if !ok {
		return
	}
	role := models.Role(strings.ToUpper(strings.TrimSpace(c.Query("role"))))
	user, err := h.users.ChangeRole(c.Request.Context(), actor.ID, c.Param("uuid"), role)
	if err != nil {
		writeUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) adminDeleteUser(c *gin.Context) {
	actor, ok := h.currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	target, err := h.users.GetByUUID(ctx, c.Param("uuid"))
	if err != nil {
		writeUserError(c, err)
		return
	}
	if target.ID == actor.ID {
		writeUserError(c, users.ErrSelfDelete)
		return
	}
	// cached tokens would otherwise outlive the account
	if err := h.auth.RevokeUserTokens(ctx, target.ID); err != nil {
		logger.FromContext(ctx).Warn("revoke tokens before delete", "user_id", target.ID, "error", err)
	}
	if err := h.users.Delete(ctx, actor.ID, target.UUID); err != nil {
		writeUserError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) adminAuditLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	entries, err := h.audit.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func writeUserError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, users.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, users.ErrSelfDelete), errors.Is(err, users.ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
