package publish

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/brandcast-hq/brandcast/backend/internal/models"
)

// Orchestrator coordinates one publish attempt: it validates inputs, claims
// the approved content item, resolves connected accounts, stages media,
// submits one fan-out post to the Publishing Provider and records one
// ScheduleEntry per resolved platform.
//
// A call is NOT idempotent once the item has been re-approved: every accepted
// submission creates a new fan-out post and a new batch of schedule entries.
// Within a single approval cycle, duplicate submissions lose the claim race
// and get ErrAlreadySubmitted.
type Orchestrator struct {
	DB       *sql.DB
	Provider Provider
	Registry *Registry
	Stager   *Stager
}

func NewOrchestrator(db *sql.DB, p Provider) *Orchestrator {
	return &Orchestrator{
		DB:       db,
		Provider: p,
		Registry: &Registry{Provider: p},
		Stager:   &Stager{Provider: p},
	}
}

type ScheduleRequest struct {
	ContentID   string
	ClientID    string
	Platforms   []string
	ScheduledAt *time.Time
}

type ScheduleResult struct {
	ProviderPostID string   `json:"providerPostId"`
	Platforms      []string `json:"platforms"`
	EntryStatus    string   `json:"entryStatus"`
	ContentStatus  string   `json:"contentStatus"`
}

// SchedulePost runs the full pipeline. Failures before submission leave
// persisted state untouched (the content claim is released). A submission
// failure persists nothing. Only a persistence failure after the provider
// accepted the post returns the partial ErrScheduleRecord condition, with the
// provider post id embedded for manual reconciliation.
func (o *Orchestrator) SchedulePost(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error) {
	contentID := strings.TrimSpace(req.ContentID)
	clientID := strings.TrimSpace(req.ClientID)
	if contentID == "" || clientID == "" {
		return nil, fmt.Errorf("%w: contentId and clientId are required", ErrValidation)
	}
	platforms := normalizePlatforms(req.Platforms)
	if len(platforms) == 0 {
		return nil, fmt.Errorf("%w: platforms must be non-empty", ErrValidation)
	}
	for _, p := range platforms {
		if !models.IsValidPlatform(p) {
			return nil, fmt.Errorf("%w: unknown platform %q", ErrValidation, p)
		}
	}

	var externalRef string
	err := o.DB.QueryRowContext(ctx, `SELECT external_ref FROM public.clients WHERE id = $1`, clientID).Scan(&externalRef)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: client %s", ErrNotFound, clientID)
	}
	if err != nil {
		return nil, err
	}

	// Claim the item while it is still approved. The claim doubles as the
	// correlation id for this submission and blocks concurrent duplicates.
	submissionID := fmt.Sprintf("sub_%s", randHex(12))
	var (
		captionBody  string
		captionShort string
		hashtags     string
		callToAction string
		primaryMedia string
		mediaURLs    []string
	)
	err = o.DB.QueryRowContext(ctx, `
		UPDATE public.content_items
		   SET last_submission_id = $3,
		       updated_at = NOW()
		 WHERE id = $1
		   AND client_id = $2
		   AND status = 'approved'
		   AND last_submission_id IS NULL
		 RETURNING caption,
		           COALESCE(caption_short, ''),
		           COALESCE(hashtags, ''),
		           COALESCE(call_to_action, ''),
		           COALESCE(primary_media_url, ''),
		           COALESCE(media_urls, ARRAY[]::text[])
	`, contentID, clientID, submissionID).
		Scan(&captionBody, &captionShort, &hashtags, &callToAction, &primaryMedia, pq.Array(&mediaURLs))
	if err == sql.ErrNoRows {
		return nil, o.diagnoseClaimFailure(ctx, contentID, clientID)
	}
	if err != nil {
		return nil, err
	}

	release := func() {
		_, rerr := o.DB.ExecContext(ctx, `
			UPDATE public.content_items
			   SET last_submission_id = NULL,
			       updated_at = NOW()
			 WHERE id = $1 AND client_id = $2 AND last_submission_id = $3
		`, contentID, clientID, submissionID)
		if rerr != nil {
			log.Printf("[Publish] release_claim_failed contentId=%s clientId=%s submissionId=%s err=%v", contentID, clientID, submissionID, rerr)
		}
	}

	resolved, err := o.Registry.ResolveAccounts(ctx, externalRef, platforms)
	if err != nil {
		release()
		return nil, err
	}
	if len(resolved) == 0 {
		release()
		log.Printf("[Publish] no_connected_accounts contentId=%s clientId=%s requested=%v", contentID, clientID, platforms)
		return nil, &NoConnectedAccountsError{Requested: platforms}
	}

	// Stage media strictly one URL at a time; a failed URL is dropped and the
	// post proceeds, caption-only if every URL fails.
	mediaHandles := make([]string, 0, len(mediaURLs)+1)
	for _, u := range collectMediaURLs(primaryMedia, mediaURLs) {
		handle, serr := o.Stager.Stage(ctx, u)
		if serr != nil {
			log.Printf("[Publish] media_skipped contentId=%s url=%s err=%s", contentID, u, truncate(serr.Error(), 300))
			continue
		}
		mediaHandles = append(mediaHandles, handle)
	}

	caption := ComposeCaption(captionBody, hashtags, callToAction)

	// Requested order, filtered to resolved, keeps account ids deterministic.
	resolvedPlatforms := make([]string, 0, len(resolved))
	accountIDs := make([]string, 0, len(resolved))
	for _, p := range platforms {
		if id, ok := resolved[p]; ok {
			resolvedPlatforms = append(resolvedPlatforms, p)
			accountIDs = append(accountIDs, id)
		}
	}

	log.Printf("[Publish] submit contentId=%s clientId=%s platforms=%v media=%d scheduled=%v",
		contentID, clientID, resolvedPlatforms, len(mediaHandles), req.ScheduledAt != nil)

	providerPostID, err := o.Provider.CreatePost(ctx, CreatePostRequest{
		AccountIDs:   accountIDs,
		MediaHandles: mediaHandles,
		Caption:      caption,
		Title:        strings.TrimSpace(captionShort),
		ScheduledAt:  req.ScheduledAt,
		ExternalID:   contentID,
	})
	if err != nil {
		release()
		log.Printf("[Publish] submit_failed contentId=%s clientId=%s err=%s", contentID, clientID, truncate(err.Error(), 400))
		return nil, fmt.Errorf("%w: %v", ErrPublishSubmission, err)
	}

	entryStatus := models.EntryStatusPosting
	contentStatus := models.ContentStatusPosted
	if req.ScheduledAt != nil && req.ScheduledAt.After(time.Now()) {
		entryStatus = models.EntryStatusQueued
		contentStatus = models.ContentStatusScheduled
	}

	for _, p := range resolvedPlatforms {
		entryID := fmt.Sprintf("sched_%s", randHex(12))
		if _, err := o.DB.ExecContext(ctx, `
			INSERT INTO public.schedule_entries
			  (id, content_id, client_id, platform, scheduled_at, status, provider_post_id, created_at, updated_at)
			VALUES
			  ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		`, entryID, contentID, clientID, p, req.ScheduledAt, entryStatus, providerPostID); err != nil {
			// The provider-side post exists; report it so operators can reconcile.
			log.Printf("[Publish] record_failed contentId=%s platform=%s providerPostId=%s err=%s",
				contentID, p, providerPostID, truncate(err.Error(), 400))
			return nil, fmt.Errorf("%w: providerPostId=%s: %v", ErrScheduleRecord, providerPostID, err)
		}
	}

	if _, err := o.DB.ExecContext(ctx, `
		UPDATE public.content_items
		   SET status = $3,
		       updated_at = NOW()
		 WHERE id = $1 AND client_id = $2
	`, contentID, clientID, contentStatus); err != nil {
		log.Printf("[Publish] status_update_failed contentId=%s providerPostId=%s err=%s",
			contentID, providerPostID, truncate(err.Error(), 400))
		return nil, fmt.Errorf("%w: providerPostId=%s: %v", ErrScheduleRecord, providerPostID, err)
	}

	log.Printf("[Publish] ok contentId=%s clientId=%s providerPostId=%s platforms=%v status=%s",
		contentID, clientID, providerPostID, resolvedPlatforms, contentStatus)

	return &ScheduleResult{
		ProviderPostID: providerPostID,
		Platforms:      resolvedPlatforms,
		EntryStatus:    entryStatus,
		ContentStatus:  contentStatus,
	}, nil
}

// diagnoseClaimFailure distinguishes a missing row from a conflicting one so
// callers get an accurate error instead of a generic not-found.
func (o *Orchestrator) diagnoseClaimFailure(ctx context.Context, contentID, clientID string) error {
	var status string
	var lastSubmission sql.NullString
	err := o.DB.QueryRowContext(ctx, `
		SELECT status, last_submission_id FROM public.content_items WHERE id = $1 AND client_id = $2
	`, contentID, clientID).Scan(&status, &lastSubmission)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: content %s", ErrNotFound, contentID)
	}
	if err != nil {
		return err
	}
	if lastSubmission.Valid && strings.TrimSpace(lastSubmission.String) != "" {
		return ErrAlreadySubmitted
	}
	if status != models.ContentStatusApproved {
		return fmt.Errorf("%w: status=%s", ErrNotApproved, status)
	}
	return ErrAlreadySubmitted
}

func normalizePlatforms(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		pp := strings.ToLower(strings.TrimSpace(p))
		if pp == "" || seen[pp] {
			continue
		}
		seen[pp] = true
		out = append(out, pp)
	}
	return out
}

func collectMediaURLs(primary string, rest []string) []string {
	seen := make(map[string]bool, len(rest)+1)
	out := make([]string, 0, len(rest)+1)
	if u := strings.TrimSpace(primary); u != "" {
		seen[u] = true
		out = append(out, u)
	}
	for _, u := range rest {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

func randHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
