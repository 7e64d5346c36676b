package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"prospector/internal/domain"
	"prospector/internal/middleware"
)

// APIResponse is the standard envelope for all API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *PagMeta    `json:"meta,omitempty"`
}

// APIError holds error details in the response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PagMeta holds pagination metadata.
type PagMeta struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// RespondOK sends a 200 success response.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// RespondAccepted sends a 202 success response for work handed to the pipeline.
func RespondAccepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, APIResponse{Success: true, Data: data})
}

// RespondPaginated sends a 200 success response with pagination metadata.
func RespondPaginated(c *gin.Context, data interface{}, meta PagMeta) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data, Meta: &meta})
}

// RespondError sends an error response with the given status code.
func RespondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: msg},
	})
}

// MapDomainError translates domain errors to HTTP status codes and error codes.
func MapDomainError(err error) (status int, code, msg string) {
	var stateErr *domain.StateError
	switch {
	case errors.As(err, &stateErr):
		return http.StatusConflict, "INVALID_TRANSITION", stateErr.Error()
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound, "JOB_NOT_FOUND", "extraction job not found"
	case errors.Is(err, domain.ErrJobAlreadyExists):
		return http.StatusConflict, "JOB_ALREADY_EXISTS", "an extraction job already exists for this document"
	case errors.Is(err, domain.ErrStaleJob):
		return http.StatusConflict, "CONCURRENT_UPDATE", "the job was modified concurrently; retry the request"
	case errors.Is(err, domain.ErrMissingDocumentID):
		return http.StatusBadRequest, "MISSING_DOCUMENT_ID", "document_id is required"
	case errors.Is(err, domain.ErrMissingReference):
		return http.StatusBadRequest, "MISSING_FILE_REFERENCE", "file_reference is required"
	case errors.Is(err, domain.ErrMissingRejectReason):
		return http.StatusBadRequest, "MISSING_REASON", "a reason is required to reject an extraction"
	case errors.Is(err, domain.ErrInvalidResubmitPolicy):
		return http.StatusBadRequest, "INVALID_POLICY", "invalid resubmit policy; allowed: restart, reuse_text"
	case errors.Is(err, domain.ErrQueueClosed):
		return http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "the job queue is not accepting work"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred"
	}
}

// HandleError maps a domain error and sends the appropriate error response.
func HandleError(c *gin.Context, err error) {
	status, code, msg := MapDomainError(err)
	if status >= 500 {
		middleware.GetLogger(c).WithError(err).Error("internal error")
	}
	RespondError(c, status, code, msg)
}
