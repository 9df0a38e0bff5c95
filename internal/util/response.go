package util

import (
	"coursegen_backend/pkg/logger"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	})
}

func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: message,
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "created",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
	})
}

func Unauthorized(c *gin.Context) {
	Error(c, http.StatusUnauthorized, "Unauthorized")
}

func Forbidden(c *gin.Context) {
	Error(c, http.StatusForbidden, "Forbidden")
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func NotFound(c *gin.Context) {
	Error(c, http.StatusNotFound, "Resource not found")
}

func InternalServerError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "Internal server error")
}

func LogInternalError(c *gin.Context, err error) {
	logger.Log.Error("Internal server error", zap.Error(err), zap.String("path", c.FullPath()))
	InternalServerError(c)
}

// StatusFor 将领域错误映射为 HTTP 状态码
func StatusFor(err error) int {
	var genErr *GenerationError
	var persistErr *PersistenceError
	switch {
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrDocumentTooLarge), errors.Is(err, ErrInvalidDocument):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotEnrolled), errors.Is(err, ErrChapterLocked):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrProgressNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrGenerationInProgress), errors.Is(err, ErrEmailRegistered), errors.Is(err, ErrUsernameTaken):
		return http.StatusConflict
	case errors.As(err, &genErr):
		return http.StatusBadGateway
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// HandleError 输出错误信息；未知错误记录日志
func HandleError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Log.Error("request failed", zap.Error(err), zap.String("path", c.FullPath()), zap.Int("status", status))
	}
	Error(c, status, err.Error())
}
