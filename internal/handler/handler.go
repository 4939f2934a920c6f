package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"eventbook_auth/internal/models"
	"eventbook_auth/internal/service"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

const healthTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck is one dependency reported by GET /health.
type HealthCheck struct {
	Name   string
	Pinger Pinger
}

type Handler struct {
	serviceLayer service.Service
	log          *slog.Logger
	checks       []HealthCheck
}

func NewHandler(srvc service.Service, lgr *slog.Logger, checks ...HealthCheck) *Handler {
	return &Handler{
		serviceLayer: srvc,
		log:          lgr,
		checks:       checks,
	}
}

func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.log), gzip.Gzip(gzip.DefaultCompression))

	router.GET("/health", h.Health)

	auth := router.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)

		authed := auth.Group("", AuthGate(h.serviceLayer, h.log))
		authed.GET("/profile", h.GetProfile)
		authed.POST("/logout", h.Logout)
	}

	admin := router.Group("/admin", AuthGate(h.serviceLayer, h.log, models.RoleAdmin))
	{
		admin.GET("/users", h.GetAllUsers)
		admin.POST("/roles/assign", h.AssignRole)
	}

	return router
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type assignRoleRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// POST /auth/register
func (h *Handler) Register(c *gin.Context) {
	const op = "handler.Register"

	log := h.log.With(slog.String("op", op))

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug("failed to read request body", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, codeValidation, "All fields are required")

		return
	}

	res, err := h.serviceLayer.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if !isClientError(err) {
			log.Error("failed to register user", slog.Any("error", err))
		}

		writeError(c, err, "Registration failed")

		return
	}

	c.JSON(http.StatusCreated, authResponse{
		Message: "User registered successfully",
		User:    res.User,
		Token:   res.Token,
	})
}

// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	const op = "handler.Login"

	log := h.log.With(slog.String("op", op))

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug("failed to read request body", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, codeValidation, "Email and password are required")

		return
	}

	res, err := h.serviceLayer.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if !isClientError(err) {
			log.Error("failed to login", slog.Any("error", err))
		}

		writeError(c, err, "Login failed")

		return
	}

	c.JSON(http.StatusOK, authResponse{
		Message: "Login successful",
		User:    res.User,
		Token:   res.Token,
	})
}

// GET /auth/profile
func (h *Handler) GetProfile(c *gin.Context) {
	const op = "handler.GetProfile"

	log := h.log.With(slog.String("op", op))

	identity, _ := models.IdentityFrom(c.Request.Context())

	user, err := h.serviceLayer.GetProfile(c.Request.Context(), identity)
	if err != nil {
		if !isClientError(err) {
			log.Error("failed to get profile", slog.Any("user_id", identity.SubjectID), slog.Any("error", err))
		}

		writeError(c, err, "Failed to load profile")

		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// POST /auth/logout
func (h *Handler) Logout(c *gin.Context) {
	const op = "handler.Logout"

	log := h.log.With(slog.String("op", op))

	identity, _ := models.IdentityFrom(c.Request.Context())

	if err := h.serviceLayer.Logout(c.Request.Context(), identity); err != nil {
		if !isClientError(err) {
			log.Error("failed to logout", slog.Any("user_id", identity.SubjectID), slog.Any("error", err))
		}

		writeError(c, err, "Logout failed")

		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// GET /admin/users
func (h *Handler) GetAllUsers(c *gin.Context) {
	const op = "handler.GetAllUsers"

	log := h.log.With(slog.String("op", op))

	users, err := h.serviceLayer.ListUsers(c.Request.Context())
	if err != nil {
		log.Error("failed to get all users", slog.Any("error", err))

		writeError(c, err, "Failed to list users")

		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

// POST /admin/roles/assign
func (h *Handler) AssignRole(c *gin.Context) {
	const op = "handler.AssignRole"

	log := h.log.With(slog.String("op", op))

	var req assignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug("failed to bind JSON in assign role", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, codeValidation, "user_id and role are required")

		return
	}

	userID, err := uuid.FromString(req.UserID)
	if err != nil {
		newErrorResponse(c, http.StatusBadRequest, codeValidation, "Invalid user_id")

		return
	}

	role := models.Role(strings.ToUpper(strings.TrimSpace(req.Role)))

	user, err := h.serviceLayer.AssignRole(c.Request.Context(), userID, role)
	if err != nil {
		if !isClientError(err) {
			log.Error("failed to assign role to user", slog.Any("user_id", userID), slog.Any("error", err))
		}

		writeError(c, err, "Failed to assign role")

		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// GET /health
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "OK"}

	for _, check := range h.checks {
		if err := check.Pinger.Ping(ctx); err != nil {
			h.log.Error("health check failed", slog.String("dependency", check.Name), slog.Any("error", err))

			status = http.StatusServiceUnavailable
			body["status"] = "ERROR"
			body[check.Name] = "unavailable"

			continue
		}
		body[check.Name] = "ok"
	}

	c.JSON(status, body)
}
