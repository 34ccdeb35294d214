// Package handlers implements the delivery server endpoints.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/narvanalabs/hotfix/internal/api/errors"
	apimw "github.com/narvanalabs/hotfix/internal/api/middleware"
	"github.com/narvanalabs/hotfix/internal/delivery"
)

// MaxBlobSize bounds uploads.
const MaxBlobSize = 256 << 20

// BlobsHandler serves and accepts blobs and catalogs.
type BlobsHandler struct {
	store  *delivery.FileStore
	logger *slog.Logger
}

// NewBlobsHandler creates a BlobsHandler over store.
func NewBlobsHandler(store *delivery.FileStore, logger *slog.Logger) *BlobsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlobsHandler{store: store, logger: logger}
}

func writeErr(w http.ResponseWriter, r *http.Request, err *apierrors.APIError) {
	apierrors.WriteError(w, err.WithRequestID(middleware.GetReqID(r.Context())))
}

// GetBlob handles GET /blobs/{handle}.
func (h *BlobsHandler) GetBlob(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	data, err := h.store.Get(handle)
	if err != nil {
		switch {
		case errors.Is(err, delivery.ErrInvalidHandle):
			writeErr(w, r, apierrors.NewValidationError("Invalid content handle"))
		case errors.Is(err, delivery.ErrNotFound):
			writeErr(w, r, apierrors.NewNotFoundError("Blob not found"))
		default:
			h.logger.Error("failed to read blob", "handle", handle, "error", err)
			writeErr(w, r, apierrors.NewInternalError("Failed to read blob"))
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.Header().Set("ETag", `"`+handle+`"`)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// PutBlob handles PUT /blobs.
func (h *BlobsHandler) PutBlob(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBlobSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, r, apierrors.NewTooLargeError("Blob exceeds the upload limit"))
			return
		}
		writeErr(w, r, apierrors.NewValidationError("Failed to read request body"))
		return
	}
	if len(data) == 0 {
		writeErr(w, r, apierrors.NewValidationError("Empty blob"))
		return
	}

	handle, err := h.store.Put(r.Context(), data)
	if err != nil {
		h.logger.Error("failed to store blob", "error", err)
		writeErr(w, r, apierrors.NewInternalError("Failed to store blob"))
		return
	}

	h.logger.Info("blob stored", "handle", handle, "bytes", len(data), "publisher", apimw.GetPublisher(r.Context()))
	apierrors.WriteJSON(w, http.StatusCreated, map[string]any{"handle": handle, "size": len(data)})
}

// GetCatalog handles GET /catalog.
func (h *BlobsHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.ReadCatalog(r.Context())
	if err != nil {
		if errors.Is(err, delivery.ErrNotFound) {
			writeErr(w, r, apierrors.NewNotFoundError("No catalog published"))
			return
		}
		h.logger.Error("failed to read catalog", "error", err)
		writeErr(w, r, apierrors.NewInternalError("Failed to read catalog"))
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, c)
}

// PutCatalog handles PUT /catalog. Every handle must already be stored.
func (h *BlobsHandler) PutCatalog(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeErr(w, r, apierrors.NewValidationError("Failed to read request body"))
		return
	}
	c, err := delivery.ParseCatalog(data)
	if err != nil {
		writeErr(w, r, apierrors.NewValidationError("Invalid catalog document"))
		return
	}

	var missing []string
	for _, e := range c.Entries {
		if e.Binary == "" {
			writeErr(w, r, apierrors.NewValidationError("Catalog entry without binary name"))
			return
		}
		if !h.store.Has(e.Handle) {
			missing = append(missing, e.Handle)
		}
	}
	if len(missing) > 0 {
		writeErr(w, r, apierrors.NewConflictError("Catalog references unknown blobs").
			WithDetails(map[string]any{"missing": missing}))
		return
	}

	if err := h.store.WriteCatalog(r.Context(), c); err != nil {
		h.logger.Error("failed to write catalog", "error", err)
		writeErr(w, r, apierrors.NewInternalError("Failed to write catalog"))
		return
	}
	h.logger.Info("catalog updated", "entries", len(c.Entries), "publisher", apimw.GetPublisher(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
