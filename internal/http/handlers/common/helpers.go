package common

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mahdimonir/professionals-bd-sub001/internal/dto"
	"github.com/mahdimonir/professionals-bd-sub001/internal/http/middleware"
	"github.com/mahdimonir/professionals-bd-sub001/internal/logger"
	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
	"github.com/mahdimonir/professionals-bd-sub001/internal/pkg/apperror"
)

var (
	// ErrUserNotFound is returned when user is not found in context
	ErrUserNotFound = errors.New("пользователь не найден в контексте")

	// ErrInvalidUUID is returned when UUID parsing fails
	ErrInvalidUUID = errors.New("неверный формат UUID")
)

// CurrentActor extracts user ID and role placed by AuthMiddleware
func CurrentActor(c *gin.Context) (models.Actor, error) {
	rawID, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return models.Actor{}, ErrUserNotFound
	}
	userID, ok := rawID.(uuid.UUID)
	if !ok {
		return models.Actor{}, ErrUserNotFound
	}

	rawRole, exists := c.Get(middleware.ContextRoleKey)
	if !exists {
		return models.Actor{}, ErrUserNotFound
	}
	role, ok := rawRole.(models.Role)
	if !ok {
		return models.Actor{}, ErrUserNotFound
	}

	return models.Actor{ID: userID, Role: role}, nil
}

// ParseUUIDParam parses UUID from URL parameter
func ParseUUIDParam(c *gin.Context, paramName string) (uuid.UUID, error) {
	param := c.Param(paramName)
	if param == "" {
		return uuid.Nil, fmt.Errorf("параметр %s отсутствует", paramName)
	}

	parsed, err := uuid.Parse(param)
	if err != nil {
		return uuid.Nil, ErrInvalidUUID
	}

	return parsed, nil
}

// RespondAppError maps an application error to its HTTP status.
// Internal causes are logged and never shown to the client.
func RespondAppError(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		appErr = apperror.Internal(err)
	}

	if appErr.Code == apperror.ErrCodeInternal {
		logger.Log.WithFields(logrus.Fields{
			"error":  err,
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}).Error("Request error")
	}

	c.AbortWithStatusJSON(appErr.HTTPStatus, dto.ErrorResponse{
		Error: appErr.Message,
		Code:  string(appErr.Code),
	})
}

// RespondError sends a standardized error response
func RespondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, dto.ErrorResponse{Error: message})
}

// RespondSuccess sends a standardized success response
func RespondSuccess(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, dto.SuccessResponse{
		Message: message,
		Data:    data,
	})
}

// RespondUnauthorized sends a 401 Unauthorized response
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "требуется авторизация"
	}
	c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: message, Code: string(apperror.ErrCodeUnauthorized)})
}

// RespondBadRequest sends a 400 Bad Request response
func RespondBadRequest(c *gin.Context, message string) {
	if message == "" {
		message = "некорректный запрос"
	}
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: message, Code: string(apperror.ErrCodeBadRequest)})
}

// ParseIntQuery safely reads an integer query parameter with a fallback value
func ParseIntQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// GetPagination extracts limit and offset from query parameters with defaults
func GetPagination(c *gin.Context) (limit, offset int) {
	limit = ParseIntQuery(c, "limit", 20)
	offset = ParseIntQuery(c, "offset", 0)
	if limit > 100 {
		limit = 100
	}
	if limit < 1 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return
}
