package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quantari/tradecore/internal/domain"
)

// archiveKinds are the object-key groups the archiver writes.
var archiveKinds = map[string]bool{
	"orders":    true,
	"positions": true,
	"audit":     true,
}

// ArchiveStore is what the archive endpoints need from blob storage.
type ArchiveStore interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

// ArchiveHandler serves read access to the cold-storage archives, so
// settled history stays queryable after it leaves the database.
type ArchiveHandler struct {
	store  ArchiveStore
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(store ArchiveStore, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{store: store, logger: logger}
}

type archiveObject struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

type listArchivesResponse struct {
	Objects []archiveObject `json:"objects"`
}

// ListArchives returns the archive objects of one kind, oldest first.
// Keys are relative to the kind prefix and feed straight into GetArchive.
// GET /api/archive/{kind}
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix, err := archivePrefix(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	infos, err := h.store.List(r.Context(), prefix)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "list archives", err)
		return
	}

	resp := listArchivesResponse{Objects: make([]archiveObject, 0, len(infos))}
	for _, info := range infos {
		resp.Objects = append(resp.Objects, archiveObject{
			Key:          strings.TrimPrefix(info.Path, prefix),
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetArchive streams one archive object as newline-delimited JSON.
// GET /api/archive/{kind}/{key...}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	prefix, err := archivePrefix(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := pathParam(r, "key")
	if key == "" || strings.Contains(key, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive key")
		return
	}

	body, err := h.store.Get(r.Context(), prefix+key)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "get archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		// The status line is gone; all we can do is log the broken stream.
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// archivePrefix validates the {kind} path segment and returns the object
// prefix the archiver writes that kind under.
func archivePrefix(r *http.Request) (string, error) {
	kind := pathParam(r, "kind")
	if !archiveKinds[kind] {
		return "", fmt.Errorf("unknown archive kind %q", kind)
	}
	return "archive/" + kind + "/", nil
}
