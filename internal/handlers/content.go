package handlers

import (
	"database/sql"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/brandcast-hq/brandcast/backend/internal/models"
)

const contentColumns = `id, client_id, status, caption, caption_short, hashtags, call_to_action, content_type,
	COALESCE(target_platforms, ARRAY[]::text[]), primary_media_url, COALESCE(media_urls, ARRAY[]::text[]),
	rejection_reason, approved_at, approved_by, last_submission_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContentItem(row rowScanner) (models.ContentItem, error) {
	var item models.ContentItem
	err := row.Scan(
		&item.ID, &item.ClientID, &item.Status, &item.Caption, &item.CaptionShort,
		&item.Hashtags, &item.CallToAction, &item.ContentType,
		pq.Array(&item.TargetPlatforms), &item.PrimaryMediaURL, pq.Array(&item.MediaURLs),
		&item.RejectionReason, &item.ApprovedAt, &item.ApprovedBy, &item.LastSubmissionID,
		&item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

type contentCreateRequest struct {
	Caption         string   `json:"caption"`
	CaptionShort    *string  `json:"captionShort,omitempty"`
	Hashtags        *string  `json:"hashtags,omitempty"`
	CallToAction    *string  `json:"callToAction,omitempty"`
	ContentType     string   `json:"contentType"`
	TargetPlatforms []string `json:"targetPlatforms"`
	PrimaryMediaURL *string  `json:"primaryMediaUrl,omitempty"`
	MediaURLs       []string `json:"mediaUrls,omitempty"`
}

// CreateContentItem creates a new draft for a client. Items always start in
// draft, regardless of what the caller sends.
func (h *Handler) CreateContentItem(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	clientID := strings.TrimSpace(pathVar(r, "clientId"))
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}

	var req contentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ContentType == "" {
		req.ContentType = models.ContentTypeImagePost
	}
	if !models.IsValidContentType(req.ContentType) {
		writeError(w, http.StatusBadRequest, "invalid_content_type")
		return
	}
	for _, p := range req.TargetPlatforms {
		if !models.IsValidPlatform(strings.ToLower(strings.TrimSpace(p))) {
			writeError(w, http.StatusBadRequest, "invalid_platform: "+p)
			return
		}
	}

	id := "cnt_" + randHex(12)
	query := `
		INSERT INTO public.content_items
		  (id, client_id, status, caption, caption_short, hashtags, call_to_action, content_type,
		   target_platforms, primary_media_url, media_urls, created_at, updated_at)
		VALUES
		  ($1, $2, 'draft', $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING ` + contentColumns

	item, err := scanContentItem(h.db.QueryRow(query,
		id, clientID, req.Caption, req.CaptionShort, req.Hashtags, req.CallToAction,
		req.ContentType, pq.Array(req.TargetPlatforms), req.PrimaryMediaURL, pq.Array(req.MediaURLs)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) GetContentItem(w http.ResponseWriter, r *http.Request) {
	clientID := pathVar(r, "clientId")
	contentID := pathVar(r, "contentId")

	item, err := scanContentItem(h.db.QueryRow(
		`SELECT `+contentColumns+` FROM public.content_items WHERE id = $1 AND client_id = $2`,
		contentID, clientID))
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "Content not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) ListContentForClient(w http.ResponseWriter, r *http.Request) {
	clientID := pathVar(r, "clientId")

	query := `SELECT ` + contentColumns + ` FROM public.content_items WHERE client_id = $1`
	args := []interface{}{clientID}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := h.db.Query(query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer rows.Close()

	items := make([]models.ContentItem, 0, 32)
	for rows.Next() {
		item, err := scanContentItem(rows)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, items)
}

// UpdateContentItem edits draft fields. Only drafts are editable; everything
// past draft is owned by the review/publish flow.
func (h *Handler) UpdateContentItem(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPut) {
		return
	}
	clientID := pathVar(r, "clientId")
	contentID := pathVar(r, "contentId")

	var req contentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ContentType != "" && !models.IsValidContentType(req.ContentType) {
		writeError(w, http.StatusBadRequest, "invalid_content_type")
		return
	}

	query := `
		UPDATE public.content_items
		   SET caption = $3,
		       caption_short = $4,
		       hashtags = $5,
		       call_to_action = $6,
		       content_type = COALESCE(NULLIF($7, ''), content_type),
		       target_platforms = $8,
		       primary_media_url = $9,
		       media_urls = $10,
		       updated_at = NOW()
		 WHERE id = $1 AND client_id = $2 AND status = 'draft'
		 RETURNING ` + contentColumns

	item, err := scanContentItem(h.db.QueryRow(query,
		contentID, clientID, req.Caption, req.CaptionShort, req.Hashtags, req.CallToAction,
		req.ContentType, pq.Array(req.TargetPlatforms), req.PrimaryMediaURL, pq.Array(req.MediaURLs)))
	if err == sql.ErrNoRows {
		h.writeTransitionConflict(w, r, contentID, clientID, "not_editable")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, item)
}

// SubmitForApproval moves draft -> pending_approval. The draft must have at
// least a caption or some media to be reviewable.
func (h *Handler) SubmitForApproval(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	clientID := pathVar(r, "clientId")
	contentID := pathVar(r, "contentId")

	query := `
		UPDATE public.content_items
		   SET status = 'pending_approval',
		       updated_at = NOW()
		 WHERE id = $1 AND client_id = $2
		   AND status = 'draft'
		   AND (TRIM(caption) <> '' OR primary_media_url IS NOT NULL OR COALESCE(array_length(media_urls, 1), 0) > 0)
		 RETURNING ` + contentColumns

	item, err := scanContentItem(h.db.QueryRow(query, contentID, clientID))
	if err == sql.ErrNoRows {
		// Distinguish "no content to review" from an illegal transition.
		var status, caption string
		var primary sql.NullString
		var mediaCount sql.NullInt64
		e2 := h.db.QueryRow(`
			SELECT status, caption, primary_media_url, COALESCE(array_length(media_urls, 1), 0)
			  FROM public.content_items WHERE id = $1 AND client_id = $2
		`, contentID, clientID).Scan(&status, &caption, &primary, &mediaCount)
		if e2 == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "Content not found")
			return
		}
		if e2 == nil && status == models.ContentStatusDraft {
			writeError(w, http.StatusBadRequest, "empty_content")
			return
		}
		writeError(w, http.StatusConflict, "invalid_transition")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.emitContentEvent(clientID, item.ID, item.Status)
	writeJSON(w, http.StatusOK, item)
}

type approveRequest struct {
	ApprovedBy string `json:"approvedBy"`
}

// ApproveContent moves pending_approval -> approved, stamping approvedAt and
// clearing any previous rejection reason.
func (h *Handler) ApproveContent(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	clientID := pathVar(r, "clientId")
	contentID := pathVar(r, "contentId")

	var req approveRequest
	if err := decodeJSON(r, &req); err != nil && err.Error() != "EOF" {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	query := `
		UPDATE public.content_items
		   SET status = 'approved',
		       approved_at = NOW(),
		       approved_by = NULLIF($3, ''),
		       rejection_reason = NULL,
		       updated_at = NOW()
		 WHERE id = $1 AND client_id = $2 AND status = 'pending_approval'
		 RETURNING ` + contentColumns

	item, err := scanContentItem(h.db.QueryRow(query, contentID, clientID, strings.TrimSpace(req.ApprovedBy)))
	if err == sql.ErrNoRows {
		h.writeTransitionConflict(w, r, contentID, clientID, "invalid_transition")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("[Lifecycle] approved contentId=%s clientId=%s by=%s", contentID, clientID, req.ApprovedBy)
	h.emitContentEvent(clientID, item.ID, item.Status)
	writeJSON(w, http.StatusOK, item)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// RejectContent moves pending_approval -> rejected. A non-empty reason is
// required; approvedAt is cleared so the invariant (reason set iff rejected)
// holds across re-review cycles.
func (h *Handler) RejectContent(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	clientID := pathVar(r, "clientId")
	contentID := pathVar(r, "contentId")

	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		writeError(w, http.StatusBadRequest, "rejection_reason_required")
		return
	}

	query := `
		UPDATE public.content_items
		   SET status = 'rejected',
		       rejection_reason = $3,
		       approved_at = NULL,
		       approved_by = NULL,
		       updated_at = NOW()
		 WHERE id = $1 AND client_id = $2 AND status = 'pending_approval'
		 RETURNING ` + contentColumns

	item, err := scanContentItem(h.db.QueryRow(query, contentID, clientID, reason))
	if err == sql.ErrNoRows {
		h.writeTransitionConflict(w, r, contentID, clientID, "invalid_transition")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("[Lifecycle] rejected contentId=%s clientId=%s reason=%s", contentID, clientID, truncate(reason, 200))
	h.emitContentEvent(clientID, item.ID, item.Status)
	writeJSON(w, http.StatusOK, item)
}

// RevertToDraft moves rejected -> draft for edit & resubmit. This is the one
// place approvedAt may be cleared outside of rejection, and it releases the
// submission claim so a future approval can be published again.
func (h *Handler) RevertToDraft(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	clientID := pathVar(r, "clientId")
	contentID := pathVar(r, "contentId")

	query := `
		UPDATE public.content_items
		   SET status = 'draft',
		       rejection_reason = NULL,
		       approved_at = NULL,
		       approved_by = NULL,
		       last_submission_id = NULL,
		       updated_at = NOW()
		 WHERE id = $1 AND client_id = $2 AND status = 'rejected'
		 RETURNING ` + contentColumns

	item, err := scanContentItem(h.db.QueryRow(query, contentID, clientID))
	if err == sql.ErrNoRows {
		h.writeTransitionConflict(w, r, contentID, clientID, "invalid_transition")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.emitContentEvent(clientID, item.ID, item.Status)
	writeJSON(w, http.StatusOK, item)
}

type mediaCallbackRequest struct {
	ContentID string `json:"contentId"`
	ClientID  string `json:"clientId"`
	MediaURL  string `json:"mediaUrl"`
}

// MediaCallback is invoked by the image-generation collaborator once a
// durable media URL exists for a content item.
func (h *Handler) MediaCallback(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req mediaCallbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ContentID) == "" || strings.TrimSpace(req.ClientID) == "" || strings.TrimSpace(req.MediaURL) == "" {
		writeError(w, http.StatusBadRequest, "contentId, clientId and mediaUrl are required")
		return
	}

	res, err := h.db.Exec(`
		UPDATE public.content_items
		   SET primary_media_url = $3,
		       updated_at = NOW()
		 WHERE id = $1 AND client_id = $2
	`, req.ContentID, req.ClientID, req.MediaURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "Content not found")
		return
	}

	log.Printf("[MediaCallback] contentId=%s clientId=%s url=%s", req.ContentID, req.ClientID, truncate(req.MediaURL, 200))
	h.emitContentEvent(req.ClientID, req.ContentID, "")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// writeTransitionConflict reports 404 for a missing row and 409 for a row in
// the wrong state; transitions are rejected, never coerced.
func (h *Handler) writeTransitionConflict(w http.ResponseWriter, r *http.Request, contentID, clientID, conflictMsg string) {
	var status string
	err := h.db.QueryRow(`SELECT status FROM public.content_items WHERE id = $1 AND client_id = $2`, contentID, clientID).Scan(&status)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "Content not found")
		return
	}
	writeError(w, http.StatusConflict, conflictMsg)
}

func (h *Handler) emitContentEvent(clientID, contentID, status string) {
	h.emitEvent(clientID, realtimeEvent{
		Type:      "content.updated",
		ContentID: contentID,
		Status:    status,
		At:        time.Now().UTC().Format(time.RFC3339),
	})
}
