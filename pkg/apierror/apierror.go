// Package apierror holds the stable error responses of the proxy. Every
// failure leaves the service as {"error": message} with a fixed status.
package apierror

import (
	"errors"
	"github.com/gin-gonic/gin"
	"net/http"
)

type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	RateLimited        = &Error{Status: http.StatusTooManyRequests, Message: "Too many requests"}
	InvalidPath        = &Error{Status: http.StatusBadRequest, Message: "Invalid path"}
	Unauthorized       = &Error{Status: http.StatusUnauthorized, Message: "Unauthorized"}
	PayloadTooLarge    = &Error{Status: http.StatusRequestEntityTooLarge, Message: "Payload too large"}
	BackendTimeout     = &Error{Status: http.StatusGatewayTimeout, Message: "Backend timeout"}
	BackendUnreachable = &Error{Status: http.StatusBadGateway, Message: "Internal proxy error"}
	SessionExpired     = &Error{Status: http.StatusUnauthorized, Message: "Session expired"}
	NotFound           = &Error{Status: http.StatusNotFound, Message: "Not found"}
	Internal           = &Error{Status: http.StatusInternalServerError, Message: "Internal server error"}
)

type Response struct {
	Error string `json:"error"`
}

// Abort writes err and stops the handler chain. Errors outside the taxonomy
// become Internal so nothing internal reaches the client.
func Abort(c *gin.Context, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Internal
	}
	c.AbortWithStatusJSON(apiErr.Status, Response{Error: apiErr.Message})
}
