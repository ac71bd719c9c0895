package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/oddslane/hedgebot/internal/domain"
)

// AuditReader is the slice of the audit store the handler needs.
type AuditReader interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit trail written by the matcher, trading, and
// settlement paths.
type AuditHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// listAuditResponse wraps the audit listing.
type listAuditResponse struct {
	Entries []auditEntry `json:"entries"`
	Count   int          `json:"count"`
}

type auditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// List returns audit entries, newest first.
// GET /api/audit?limit=50&offset=0
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}

	out := make([]auditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntry{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Entries: out, Count: len(out)})
}
