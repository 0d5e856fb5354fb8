package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"udl/application/store"
	"udl/domain/deletion"
	"udl/domain/node"
)

// SyncHandler serves GET /_sync for peer catch-up pulls.
type SyncHandler struct {
	store     *store.Store
	deletions *deletion.Log
	logger    *zap.Logger
}

// NewSyncHandler creates the sync dump handler.
func NewSyncHandler(s *store.Store, deletions *deletion.Log, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{store: s, deletions: deletions, logger: logger}
}

type syncResponse struct {
	Updated []*node.Node `json:"updated"`
	Deleted []string     `json:"deleted"`
}

// Dump returns every node modified after `since` and the ids deleted
// after it. A missing `since` defaults to the epoch, which yields a
// full dump.
func (h *SyncHandler) Dump(w http.ResponseWriter, r *http.Request) {
	since := time.Unix(0, 0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = parsed
	}

	updated := h.store.NodesModifiedSince(since)

	entries := h.deletions.Since(since, "")
	deleted := make([]string, 0, len(entries))
	for _, entry := range entries {
		deleted = append(deleted, entry.NodeID)
	}

	writeJSON(w, http.StatusOK, syncResponse{Updated: updated, Deleted: deleted})
}
