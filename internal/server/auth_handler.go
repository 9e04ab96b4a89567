package server

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/martinmaurice/erpgate/internal/auth"
	"github.com/martinmaurice/erpgate/pkg/apierror"
	"github.com/martinmaurice/erpgate/pkg/session"
	"io"
	"log/slog"
	"net/http"
)

type authHandlerServicer interface {
	Login(ctx context.Context, store session.Store, credentials []byte) (*auth.BackendResponse, error)
	Logout(ctx context.Context, store session.Store)
}

var invalidCredentialsBody = &apierror.Error{Status: http.StatusBadRequest, Message: "Invalid request body"}

func LoginHandler(s authHandlerServicer, maxBodyBytes int64) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		logger := slog.With("handler", "login")

		if ctx.Request.ContentLength > maxBodyBytes {
			apierror.Abort(ctx, apierror.PayloadTooLarge)
			return
		}
		body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxBodyBytes+1))
		if err != nil {
			apierror.Abort(ctx, invalidCredentialsBody)
			return
		}
		if int64(len(body)) > maxBodyBytes {
			apierror.Abort(ctx, apierror.PayloadTooLarge)
			return
		}
		if !json.Valid(body) {
			apierror.Abort(ctx, invalidCredentialsBody)
			return
		}

		store := session.NewCookieStore(ctx.Writer, ctx.Request)
		resp, err := s.Login(ctx.Request.Context(), store, body)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			logger.Warn("login timed out", "error", err)
			apierror.Abort(ctx, apierror.BackendTimeout)
			return
		case err != nil:
			logger.Warn("login failed", "error", err)
			apierror.Abort(ctx, apierror.BackendUnreachable)
			return
		case resp != nil:
			ctx.Data(resp.Status, resp.ContentType, resp.Body)
			return
		}

		ctx.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func LogoutHandler(s authHandlerServicer) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		s.Logout(ctx.Request.Context(), session.NewCookieStore(ctx.Writer, ctx.Request))
		ctx.JSON(http.StatusOK, gin.H{"success": true})
	}
}
