package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/pspoerri/dicomizer/internal/dzerr"
)

// writeError maps a core error kind to an HTTP status (spec.md §6: 404 for
// UnknownResource, 400 for ParameterOutOfRange, 500 otherwise) and logs it.
// An unsupported Accept header is answered by notAcceptable (406) instead.
func writeError(w http.ResponseWriter, log *slog.Logger, component string, err error) {
	status := http.StatusInternalServerError
	switch dzerr.KindOf(err) {
	case dzerr.KindUnknownResource:
		status = http.StatusNotFound
	case dzerr.KindParameterOutOfRange:
		status = http.StatusBadRequest
	}
	if log != nil {
		log.Error("request failed", "component", component, "status", status, "error", err)
	}
	http.Error(w, err.Error(), status)
}

// notAcceptable reports a 406 for an Accept header naming no format this
// endpoint supports.
func notAcceptable(w http.ResponseWriter, log *slog.Logger, accept string) {
	if log != nil {
		log.Warn("no acceptable media type", "accept", accept)
	}
	http.Error(w, "no acceptable media type", http.StatusNotAcceptable)
}
