package api

import (
	"net/http"

	"github.com/ignite/campaign-mailer/internal/service/dispatch"
	"github.com/ignite/campaign-mailer/internal/service/engagement"
	"github.com/ignite/campaign-mailer/internal/service/records"
)

// defaultMaxUpload bounds an upload-csv request when no limit is configured.
const defaultMaxUpload = 32 << 20

// Handlers contains all HTTP handlers
type Handlers struct {
	records    *records.Service
	dispatcher *dispatch.Dispatcher
	tracker    *engagement.Tracker
	maxUpload  int64
}

// NewHandlers creates the handlers. maxUpload <= 0 uses 32 MiB.
func NewHandlers(rec *records.Service, dispatcher *dispatch.Dispatcher, tracker *engagement.Tracker, maxUpload int64) *Handlers {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &Handlers{
		records:    rec,
		dispatcher: dispatcher,
		tracker:    tracker,
		maxUpload:  maxUpload,
	}
}

// Welcome answers GET /.
func (h *Handlers) Welcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Welcome to the Email Campaign API!"))
}
