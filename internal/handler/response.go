package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/classpilot/school-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// RespondError maps application error codes to HTTP statuses. Internal errors
// are returned with a generic message; the real cause goes to the log only.
func RespondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	status := http.StatusInternalServerError
	message := "internal server error"

	if errors.As(err, &appErr) {
		message = appErr.Message
		switch appErr.Code {
		case apperrors.ErrNotFound:
			status = http.StatusNotFound
		case apperrors.ErrValidation:
			status = http.StatusBadRequest
		case apperrors.ErrConflict:
			status = http.StatusConflict
		case apperrors.ErrUnauthorized:
			status = http.StatusUnauthorized
		case apperrors.ErrNotConfigured:
			status = http.StatusUnprocessableEntity
		default:
			status = http.StatusInternalServerError
			message = "internal server error"
		}
	}

	_ = c.Error(err)
	c.JSON(status, NewErrorResponse(message))
}
