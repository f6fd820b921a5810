package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/octoit/octoit/pkg/control"
	"github.com/octoit/octoit/pkg/entity"
	"github.com/octoit/octoit/pkg/integration"
	"github.com/octoit/octoit/pkg/kraken"
	"github.com/octoit/octoit/pkg/log"
	"github.com/octoit/octoit/pkg/storage"
)

// statusFor maps an error to an HTTP status and the message shown to the
// client. Config flow errors keep their error key as the message.
func statusFor(err error) (int, string) {
	var verr *control.ValidationError
	var authErr *kraken.AuthError
	var expired *kraken.TokenExpiredError
	var apiErr *kraken.APIError
	var netErr *kraken.NetworkError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, integration.ErrInvalidAuth):
		return http.StatusBadRequest, integration.ErrInvalidAuth.Error()
	case errors.Is(err, integration.ErrNoAccounts):
		return http.StatusBadRequest, integration.ErrNoAccounts.Error()
	case errors.Is(err, integration.ErrAlreadyConfigured):
		return http.StatusConflict, integration.ErrAlreadyConfigured.Error()
	case errors.Is(err, entity.ErrNotFound), errors.Is(err, storage.ErrEntryNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, control.ErrNotLoaded), errors.Is(err, integration.ErrEntryNotLoaded):
		return http.StatusConflict, err.Error()
	case errors.Is(err, integration.ErrCannotConnect):
		return http.StatusBadGateway, integration.ErrCannotConnect.Error()
	case errors.As(err, &authErr), errors.As(err, &expired):
		return http.StatusBadGateway, "upstream authentication failed"
	case errors.As(err, &apiErr), errors.As(err, &netErr):
		return http.StatusBadGateway, "upstream request failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	ctx := r.Context()
	if code >= http.StatusInternalServerError {
		log.Ctx(ctx).ErrorContext(ctx, "request failed", slog.Int("status", code), slog.Any("error", err))
	} else {
		log.Ctx(ctx).InfoContext(ctx, "request rejected", slog.Int("status", code), slog.Any("error", err))
	}
	writeJSONError(w, msg, code)
}
