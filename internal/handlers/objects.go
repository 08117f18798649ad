package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fjmerc/partstream/internal/middleware"
	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/repository"
	"github.com/fjmerc/partstream/internal/storage"
	"github.com/fjmerc/partstream/internal/utils"
)

const maxListLimit = 1000

// ObjectHandler serves GET and DELETE on /api/objects/{key...}
func ObjectHandler(objects repository.ObjectRepository, store storage.Backend) http.HandlerFunc {
	get := ObjectGetHandler(objects, store)
	del := ObjectDeleteHandler(objects, store)

	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			get(w, r)
		case http.MethodDelete:
			del(w, r)
		default:
			w.Header().Set("Allow", "GET, HEAD, DELETE")
			sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
		}
	}
}

// loadOwnedObject resolves the object named by the request path and checks
// that the caller owns it. It writes the error response when it fails.
func loadOwnedObject(w http.ResponseWriter, r *http.Request, objects repository.ObjectRepository) (*models.StoredObject, bool) {
	key := r.PathValue("key")
	if key == "" {
		sendError(w, "Object key is required", "INVALID_REQUEST", http.StatusBadRequest)
		return nil, false
	}

	obj, err := objects.GetByKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendError(w, "Object not found", "OBJECT_NOT_FOUND", http.StatusNotFound)
			return nil, false
		}
		slog.Error("failed to load object", "object_key", key, "error", err)
		sendError(w, "Internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
		return nil, false
	}

	if obj.OwnerID != middleware.OwnerID(r.Context()) {
		sendError(w, "Object belongs to another user", "FORBIDDEN", http.StatusForbidden)
		return nil, false
	}
	return obj, true
}

// ObjectGetHandler streams a completed object, honouring single-range
// Range requests.
// GET /api/objects/{key...}
func ObjectGetHandler(objects repository.ObjectRepository, store storage.Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		obj, ok := loadOwnedObject(w, r, objects)
		if !ok {
			return
		}

		size := obj.TotalSize
		contentType := obj.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		h := w.Header()
		h.Set("Accept-Ranges", "bytes")
		h.Set("Content-Type", contentType)
		h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, utils.SanitizeForContentDisposition(obj.Filename)))
		h.Set("Cache-Control", "private, no-cache")
		if obj.ETag != "" {
			h.Set("ETag", `"`+obj.ETag+`"`)
		}

		// An If-Range validator that no longer matches means the full object
		rangeHeader := r.Header.Get("Range")
		if ifRange := r.Header.Get("If-Range"); ifRange != "" && ifRange != h.Get("ETag") {
			rangeHeader = ""
		}

		if rangeHeader != "" {
			rng, err := utils.ParseRange(rangeHeader, size)
			switch {
			case errors.Is(err, utils.ErrRangeNotSatisfiable):
				h.Set("Content-Range", utils.UnsatisfiedRangeHeader(size))
				sendError(w, "Requested range not satisfiable", "RANGE_NOT_SATISFIABLE", http.StatusRequestedRangeNotSatisfiable)
				return
			case err != nil:
				// Malformed ranges are ignored and the whole object is served
				slog.Debug("ignoring malformed range", "object_key", obj.ObjectKey, "range", rangeHeader, "error", err)
			default:
				serveRange(w, r, store, obj, rng)
				return
			}
		}

		h.Set("Content-Length", strconv.FormatInt(size, 10))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}

		rc, _, err := store.Get(r.Context(), obj.ObjectKey)
		if err != nil {
			sendStoreReadError(w, obj.ObjectKey, err)
			return
		}
		defer rc.Close()

		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, rc); err != nil {
			slog.Warn("object download interrupted", "object_key", obj.ObjectKey, "error", err)
		}
	}
}

func serveRange(w http.ResponseWriter, r *http.Request, store storage.Backend, obj *models.StoredObject, rng *utils.HTTPRange) {
	h := w.Header()
	h.Set("Content-Range", rng.ContentRangeHeader(obj.TotalSize))
	h.Set("Content-Length", strconv.FormatInt(rng.ContentLength(), 10))

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusPartialContent)
		return
	}

	// Check the object exists before committing to a 206
	if _, err := store.Stat(r.Context(), obj.ObjectKey); err != nil {
		h.Del("Content-Range")
		h.Del("Content-Length")
		sendStoreReadError(w, obj.ObjectKey, err)
		return
	}

	w.WriteHeader(http.StatusPartialContent)
	if _, err := store.StreamRange(r.Context(), obj.ObjectKey, rng.Start, rng.End, w); err != nil {
		slog.Warn("range download interrupted",
			"object_key", obj.ObjectKey,
			"start", rng.Start,
			"end", rng.End,
			"error", err,
		)
	}
}

func sendStoreReadError(w http.ResponseWriter, key string, err error) {
	w.Header().Del("Content-Length")
	switch {
	case storage.IsNotFound(err):
		slog.Error("object record has no stored content", "object_key", key)
		sendError(w, "Object not found", "OBJECT_NOT_FOUND", http.StatusNotFound)
	case storage.IsTransient(err):
		w.Header().Set("Retry-After", "1")
		sendError(w, "Storage temporarily unavailable, retry the request", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable)
	default:
		slog.Error("failed to read object", "object_key", key, "error", err)
		sendError(w, "Internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}

// ObjectListHandler lists the caller's completed objects, newest first
// GET /api/objects?limit=&offset=
func ObjectListHandler(objects repository.ObjectRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		page := repository.DefaultPagination()
		q := r.URL.Query()
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxListLimit {
				sendError(w, fmt.Sprintf("limit must be between 1 and %d", maxListLimit), "INVALID_REQUEST", http.StatusBadRequest)
				return
			}
			page.Limit = n
		}
		if v := q.Get("offset"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				sendError(w, "offset must be a non-negative integer", "INVALID_REQUEST", http.StatusBadRequest)
				return
			}
			page.Offset = n
		}

		list, err := objects.ListByOwner(r.Context(), middleware.OwnerID(r.Context()), page)
		if err != nil {
			slog.Error("failed to list objects", "error", err)
			sendError(w, "Internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []models.StoredObject{}
		}

		sendJSON(w, http.StatusOK, models.ObjectListResponse{Objects: list})
	}
}

// ObjectDeleteHandler removes a completed object and its record
// DELETE /api/objects/{key...}
func ObjectDeleteHandler(objects repository.ObjectRepository, store storage.Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodDelete) {
			return
		}

		obj, ok := loadOwnedObject(w, r, objects)
		if !ok {
			return
		}

		if err := store.Delete(r.Context(), obj.ObjectKey); err != nil {
			sendStoreReadError(w, obj.ObjectKey, err)
			return
		}
		if err := objects.Delete(r.Context(), obj.ObjectKey); err != nil && !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to delete object record", "object_key", obj.ObjectKey, "error", err)
			sendError(w, "Internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
			return
		}

		slog.Info("object deleted", "object_key", obj.ObjectKey, "owner_id", obj.OwnerID)
		sendJSON(w, http.StatusOK, models.ObjectDeleteResponse{Key: obj.ObjectKey, Deleted: true})
	}
}
