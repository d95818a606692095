package api

import (
	"errors"
	"net/http"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
)

// statusOf maps service errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNoRecipients):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the {"error", "details"} envelope. Client errors carry
// the error text, except 404 which uses notFound. Server errors use failed
// as the message, keep the cause in details, and are logged.
func respondError(w http.ResponseWriter, err error, notFound, failed string) {
	switch status := statusOf(err); status {
	case http.StatusInternalServerError:
		httputil.InternalError(w, failed, err)
	case http.StatusNotFound:
		httputil.NotFound(w, notFound)
	default:
		httputil.Error(w, status, err.Error())
	}
}
