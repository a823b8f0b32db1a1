package auth

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/classlive/backend/internal/models"
	"github.com/classlive/backend/pkg/response"
)

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo   *Repository
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo *Repository, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, jwt: jwt, logger: logger}
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	u, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		h.logger.Error("login lookup failed", zap.Error(err))
		response.Internal(c, "login failed, try again")
		return
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)) != nil {
		response.Unauthorized(c, "invalid email or password")
		return
	}
	token, err := h.jwt.Generate(u)
	if err != nil {
		h.logger.Error("token generation failed", zap.Error(err))
		response.Internal(c, "login failed, try again")
		return
	}
	response.OK(c, gin.H{"token": token, "user": publicUser(u)})
}

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name"`
}

// Register handles POST /auth/register. New accounts are students; other
// roles are provisioned out of band.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	existing, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		h.logger.Error("register lookup failed", zap.Error(err))
		response.Internal(c, "registration failed, try again")
		return
	}
	if existing != nil {
		response.Conflict(c, "email already registered")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		response.Internal(c, "registration failed, try again")
		return
	}
	u := &models.User{
		Email:    req.Email,
		Password: string(hash),
		FullName: req.FullName,
		Role:     models.RoleStudent,
	}
	if err := h.repo.Create(c.Request.Context(), u); err != nil {
		h.logger.Error("create user failed", zap.Error(err))
		response.Internal(c, "registration failed, try again")
		return
	}
	response.Created(c, publicUser(u))
}

func publicUser(u *models.User) gin.H {
	return gin.H{
		"id":              u.ID,
		"email":           u.Email,
		"full_name":       u.FullName,
		"role":            u.Role,
		"organization_id": u.OrganizationID,
	}
}
