package apierror

import (
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAbort(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Taxonomy error",
			err:        PayloadTooLarge,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantBody:   `{"error":"Payload too large"}`,
		},
		{
			name:       "Wrapped taxonomy error",
			err:        fmt.Errorf("forward: %w", BackendTimeout),
			wantStatus: http.StatusGatewayTimeout,
			wantBody:   `{"error":"Backend timeout"}`,
		},
		{
			name:       "Foreign error is hidden",
			err:        errors.New("dial tcp 10.0.0.3:443: connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"Internal server error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)

			Abort(c, tt.err)

			assert.True(t, c.IsAborted())
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}
