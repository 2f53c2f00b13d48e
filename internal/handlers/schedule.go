package handlers

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/brandcast-hq/brandcast/backend/internal/models"
	"github.com/brandcast-hq/brandcast/backend/internal/publish"
)

type scheduleRequest struct {
	Platforms   []string   `json:"platforms"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

// SchedulePost submits an approved content item to the Publishing Provider.
// POST /api/clients/{clientId}/content/{contentId}/schedule
func (h *Handler) SchedulePost(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	clientID := pathVar(r, "clientId")
	contentID := pathVar(r, "contentId")

	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.orch.SchedulePost(r.Context(), publish.ScheduleRequest{
		ContentID:   contentID,
		ClientID:    clientID,
		Platforms:   req.Platforms,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		h.writeScheduleError(w, err)
		return
	}

	// Daily usage counter, reset lazily when the stamp is stale.
	if _, uerr := h.db.Exec(`
		UPDATE public.clients
		   SET posts_created_today = CASE WHEN usage_reset_date IS NULL OR usage_reset_date < CURRENT_DATE
		                                  THEN 1 ELSE posts_created_today + 1 END,
		       usage_reset_date = CURRENT_DATE
		 WHERE id = $1
	`, clientID); uerr != nil {
		log.Printf("[Schedule] usage_update_failed clientId=%s err=%v", clientID, uerr)
	}

	h.emitEvent(clientID, realtimeEvent{
		Type:           "content.publish",
		ContentID:      contentID,
		Status:         res.ContentStatus,
		ProviderPostID: res.ProviderPostID,
		Platforms:      res.Platforms,
	})

	writeJSON(w, http.StatusOK, res)
}

// writeScheduleError maps the publish failure taxonomy onto HTTP statuses.
func (h *Handler) writeScheduleError(w http.ResponseWriter, err error) {
	var noAccounts *publish.NoConnectedAccountsError
	switch {
	case errors.Is(err, publish.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, publish.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, publish.ErrNotApproved), errors.Is(err, publish.ErrAlreadySubmitted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &noAccounts):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":     "no_connected_accounts",
			"requested": noAccounts.Requested,
		})
	case errors.Is(err, publish.ErrProviderUnavailable), errors.Is(err, publish.ErrPublishSubmission):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, publish.ErrScheduleRecord):
		// The provider-side post exists. Surface its id so operators can reconcile.
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":          "submitted_not_recorded",
			"providerPostId": extractProviderPostID(err.Error()),
			"detail":         truncate(err.Error(), 400),
		})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// extractProviderPostID pulls the "providerPostId=..." token out of an
// ErrScheduleRecord message.
func extractProviderPostID(msg string) string {
	const marker = "providerPostId="
	i := strings.Index(msg, marker)
	if i < 0 {
		return ""
	}
	rest := msg[i+len(marker):]
	if j := strings.IndexAny(rest, ": "); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

// ListScheduleEntries returns the per-platform publish records for a client,
// optionally filtered by content item.
// GET /api/clients/{clientId}/schedule?contentId=...
func (h *Handler) ListScheduleEntries(w http.ResponseWriter, r *http.Request) {
	clientID := pathVar(r, "clientId")

	query := `
		SELECT id, content_id, client_id, platform, scheduled_at, status, provider_post_id, error, created_at, updated_at
		  FROM public.schedule_entries
		 WHERE client_id = $1`
	args := []interface{}{clientID}
	if contentID := strings.TrimSpace(r.URL.Query().Get("contentId")); contentID != "" {
		query += ` AND content_id = $2`
		args = append(args, contentID)
	}
	query += ` ORDER BY created_at DESC, platform ASC`

	rows, err := h.db.Query(query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer rows.Close()

	entries := make([]models.ScheduleEntry, 0, 16)
	for rows.Next() {
		var e models.ScheduleEntry
		var scheduledAt sql.NullTime
		var entryErr sql.NullString
		if err := rows.Scan(&e.ID, &e.ContentID, &e.ClientID, &e.Platform, &scheduledAt, &e.Status, &e.ProviderPostID, &entryErr, &e.CreatedAt, &e.UpdatedAt); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		e.ScheduledAt = nullTimePtr(scheduledAt)
		e.Error = nullStringPtr(entryErr)
		entries = append(entries, e)
	}

	writeJSON(w, http.StatusOK, entries)
}
