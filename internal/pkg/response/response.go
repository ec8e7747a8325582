package response

import (
	"net/http"
	"reflect"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/distill/internal/pkg/apperr"
)

// Pagination metadata returned with paginated responses.
type Pagination struct {
	Total       int64 `json:"total"`
	CurrentPage int   `json:"current_page"`
	TotalPage   int   `json:"total_page"`
	Size        int   `json:"size"`
	HasNextPage bool  `json:"has_next_page"`
}

// pagedResponse is the envelope for paginated list responses.
type pagedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// OK sends a 200 response. Arrays/slices are wrapped in {data: [...]}.
func OK(c *gin.Context, data interface{}) {
	if data != nil {
		v := reflect.ValueOf(data)
		if v.Kind() == reflect.Slice {
			c.JSON(http.StatusOK, gin.H{"data": data})
			return
		}
	}
	c.JSON(http.StatusOK, data)
}

// Paged sends a paginated response.
func Paged(c *gin.Context, data interface{}, pagination Pagination) {
	c.JSON(http.StatusOK, pagedResponse{
		Data:       data,
		Pagination: pagination,
	})
}

// Created sends a 201 response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// Accepted sends a 202 response.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, data)
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends a 400 error response.
func BadRequest(c *gin.Context, message string) {
	abort(c, http.StatusBadRequest, apperr.KindValidation, message)
}

// Unauthorized sends a 401 error response.
func Unauthorized(c *gin.Context) {
	abort(c, http.StatusUnauthorized, apperr.KindUnauthenticated, "authentication required")
}

// Forbidden sends a 403 error response.
func Forbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": 0, "code": http.StatusForbidden, "message": "forbidden"})
}

// NotFound sends a 404 error response.
func NotFound(c *gin.Context) {
	NotFoundMsg(c, "not found")
}

// NotFoundMsg sends a 404 error with a custom message.
func NotFoundMsg(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"ok": 0, "code": http.StatusNotFound, "message": message})
}

// MethodNotAllowed sends a 405 error response.
func MethodNotAllowed(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"ok": 0, "code": http.StatusMethodNotAllowed, "message": "method not allowed"})
}

// Conflict sends a 409 error response.
func Conflict(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusConflict, gin.H{"ok": 0, "code": http.StatusConflict, "message": message})
}

// Error renders err with the status of its kind. Unclassified errors become
// 500 with a generic message so internals do not leak. Rate-limit denials
// also carry the X-RateLimit-* and Retry-After headers.
func Error(c *gin.Context, err error) {
	ae := apperr.As(err)
	message := ae.Message
	if ae.Kind == apperr.KindInternal {
		message = "internal error"
		_ = c.Error(err)
	}

	body := gin.H{"ok": 0, "code": ae.Status(), "message": message, "kind": ae.Kind}
	if rl := ae.RateLimit; rl != nil {
		SetRateLimitHeaders(c, rl.Limit, rl.Remaining, rl.ResetAt.Unix())
		c.Header("Retry-After", strconv.Itoa(rl.RetryAfterSeconds))
		body["limit"] = rl.Limit
		body["remaining"] = rl.Remaining
		body["resetAt"] = rl.ResetAt
	}
	c.AbortWithStatusJSON(ae.Status(), body)
}

// SetRateLimitHeaders writes the quota window headers. Reset is a unix
// timestamp in seconds.
func SetRateLimitHeaders(c *gin.Context, limit, remaining int, reset int64) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
}

func abort(c *gin.Context, status int, kind apperr.Kind, message string) {
	c.AbortWithStatusJSON(status, gin.H{"ok": 0, "code": status, "message": message, "kind": kind})
}
