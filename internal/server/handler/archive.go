package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oddslane/hedgebot/internal/domain"
)

// archivePrefix roots every archive object key.
const archivePrefix = "archive/"

// ArchiveHandler serves the cold-storage export listings and downloads.
type ArchiveHandler struct {
	reader domain.BlobReader // nil when archiving is not configured
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(reader domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, logger: logger}
}

// listArchivesResponse wraps the archive listing.
type listArchivesResponse struct {
	Archives []archiveInfo `json:"archives"`
	Count    int           `json:"count"`
}

type archiveInfo struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
}

// List returns the monthly export objects under the archive prefix.
// GET /api/archives?prefix=trades/
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusNotImplemented, "archiving not configured")
		return
	}

	prefix := archivePrefix + strings.TrimPrefix(r.URL.Query().Get("prefix"), "/")
	infos, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}

	out := make([]archiveInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, archiveInfo{
			Path:         strings.TrimPrefix(info.Path, archivePrefix),
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writeJSON(w, http.StatusOK, listArchivesResponse{Archives: out, Count: len(out)})
}

// Download streams one export object.
// GET /api/archives/{path...}
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusNotImplemented, "archiving not configured")
		return
	}

	path := r.PathValue("path")
	if path == "" || strings.Contains(path, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}

	body, err := h.reader.Get(r.Context(), archivePrefix+path)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
