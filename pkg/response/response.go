package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the unified API response format.
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	ErrorCode string      `json:"error_code,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// AppError represents a structured application error with HTTP status and
// a stable machine-readable error code.
type AppError struct {
	HTTPStatus int    // HTTP status code (e.g. 400, 404, 500)
	ErrorCode  string // e.g. INVALID_CREDENTIALS
	Message    string // Human-readable error message
}

func (e *AppError) Error() string {
	return e.Message
}

func New(status int, code, msg string) *AppError {
	return &AppError{HTTPStatus: status, ErrorCode: code, Message: msg}
}

func NewBadRequest(code, msg string) *AppError {
	return New(http.StatusBadRequest, code, msg)
}

func NewUnauthorized(code, msg string) *AppError {
	return New(http.StatusUnauthorized, code, msg)
}

// Success sends a 200 OK response with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "ok",
		Data:    data,
	})
}

// Created sends a 201 Created response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "created",
		Data:    data,
	})
}

// Accepted sends a 202 Accepted response with data.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code:    0,
		Message: "accepted",
		Data:    data,
	})
}

// Error sends an error response. If err is an *AppError, its code and status
// are used; otherwise a generic 500 internal server error is returned.
func Error(c *gin.Context, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, Response{
			Code:      appErr.HTTPStatus,
			Message:   appErr.Message,
			ErrorCode: appErr.ErrorCode,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, Response{
		Code:      500,
		Message:   "internal server error",
		ErrorCode: "INTERNAL_ERROR",
	})
}

// Abort writes the error response and stops the handler chain.
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

func BadRequest(c *gin.Context, code, msg string) {
	Error(c, NewBadRequest(code, msg))
}
