package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	pkgerrors "github.com/sorrycc/elasticdl/pkg/errors"
)

const (
	VersionKey = "version"
	ModeKey    = "mode"

	ContentType = "application/json"
)

// Response lets API responses control their status code and headers.
type Response interface {
	Code() int
	Headers() map[string]string
	Empty() bool
}

func EncodeResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	if ar, ok := response.(Response); ok {
		for k, v := range ar.Headers() {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(ar.Code())

		if ar.Empty() {
			return nil
		}
	}

	return json.NewEncoder(w).Encode(response)
}

func EncodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentType)
	switch {
	case errors.Is(err, pkgerrors.ErrEmptyKey),
		errors.Is(err, pkgerrors.ErrInvalidData),
		errors.Is(err, pkgerrors.ErrShapeMismatch),
		errors.Is(err, pkgerrors.ErrIndexOutOfRange),
		errors.Is(err, pkgerrors.ErrUnknownVariable):
		w.WriteHeader(http.StatusBadRequest)
	case errors.Is(err, pkgerrors.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, pkgerrors.ErrVersionNotAvailable):
		w.WriteHeader(http.StatusConflict)
	case errors.Is(err, pkgerrors.ErrMissingEmbeddingKeys):
		w.WriteHeader(http.StatusFailedDependency)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}

	if err := json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// LoggingErrorEncoder wraps an error encoder so every encoded error
// is also logged.
func LoggingErrorEncoder(logger *slog.Logger, enc func(context.Context, error, http.ResponseWriter)) func(context.Context, error, http.ResponseWriter) {
	return func(ctx context.Context, err error, w http.ResponseWriter) {
		logger.WarnContext(ctx, "API request failed", slog.Any("error", err))
		enc(ctx, err, w)
	}
}
