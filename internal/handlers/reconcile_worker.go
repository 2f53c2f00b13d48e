package handlers

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"

	"github.com/brandcast-hq/brandcast/backend/internal/models"
	"github.com/brandcast-hq/brandcast/backend/internal/publish"
)

const maxReconcileAttempts = 48

// reconcileOnce polls the Publishing Provider for the outcome of open
// schedule entries. Entries are grouped by provider_post_id so a fan-out post
// costs one provider call regardless of how many platforms it covers.
//
// Each sweep bumps reconcile_attempts; an entry that stays unresolved past
// maxReconcileAttempts is marked failed with a distinguished error so
// operators can tell "provider never answered" from a real platform failure.
func (h *Handler) reconcileOnce(ctx context.Context, limit int) (int, error) {
	if h == nil || h.db == nil || h.orch == nil || h.orch.Provider == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 25
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT DISTINCT provider_post_id
		  FROM public.schedule_entries
		 WHERE status IN ('queued', 'posting')
		   AND reconcile_attempts < $2
		   AND (scheduled_at IS NULL OR scheduled_at <= NOW())
		 ORDER BY provider_post_id
		 LIMIT $1
	`, limit, maxReconcileAttempts)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	postIDs := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		postIDs = append(postIDs, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	resolved := 0
	for _, postID := range postIDs {
		results, err := h.orch.Provider.ListResults(ctx, postID)
		if err != nil {
			log.Printf("[Reconcile] provider_error providerPostId=%s err=%s", postID, truncate(err.Error(), 300))
			h.bumpReconcileAttempts(ctx, postID)
			continue
		}

		byPlatform := make(map[string]publish.PostResult, len(results))
		for _, res := range results {
			byPlatform[publish.FromProviderPlatform(res.Platform)] = res
		}

		n, err := h.applyResults(ctx, postID, byPlatform)
		if err != nil {
			log.Printf("[Reconcile] apply_failed providerPostId=%s err=%v", postID, err)
			continue
		}
		resolved += n
	}

	// Expire entries that exhausted their attempt budget without an answer.
	h.expireStaleEntries(ctx)

	return resolved, nil
}

// applyResults updates the open entries of one fan-out post from the provider
// results. Platforms with no result yet just get their attempt counter bumped.
func (h *Handler) applyResults(ctx context.Context, postID string, byPlatform map[string]publish.PostResult) (int, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, client_id, content_id, platform
		  FROM public.schedule_entries
		 WHERE provider_post_id = $1 AND status IN ('queued', 'posting')
	`, postID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type open struct {
		id, clientID, contentID, platform string
	}
	opens := make([]open, 0, 4)
	for rows.Next() {
		var o open
		if err := rows.Scan(&o.id, &o.clientID, &o.contentID, &o.platform); err != nil {
			return 0, err
		}
		opens = append(opens, o)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	resolved := 0
	for _, o := range opens {
		res, ok := byPlatform[o.platform]
		if !ok {
			_, _ = h.db.ExecContext(ctx, `
				UPDATE public.schedule_entries
				   SET reconcile_attempts = reconcile_attempts + 1, updated_at = NOW()
				 WHERE id = $1
			`, o.id)
			continue
		}

		var status string
		var entryErr interface{}
		switch strings.ToLower(res.Status) {
		case "posted", "published":
			status = models.EntryStatusPosted
		case "failed", "rejected":
			status = models.EntryStatusFailed
			entryErr = truncate(res.Error, 300)
		case "posting", "processing":
			status = models.EntryStatusPosting
		default:
			// Unknown status from the provider, try again next sweep.
			_, _ = h.db.ExecContext(ctx, `
				UPDATE public.schedule_entries
				   SET reconcile_attempts = reconcile_attempts + 1, updated_at = NOW()
				 WHERE id = $1
			`, o.id)
			continue
		}

		if _, err := h.db.ExecContext(ctx, `
			UPDATE public.schedule_entries
			   SET status = $2, error = $3, updated_at = NOW()
			 WHERE id = $1
		`, o.id, status, entryErr); err != nil {
			log.Printf("[Reconcile] entry_update_failed entryId=%s err=%v", o.id, err)
			continue
		}

		if status == models.EntryStatusPosted || status == models.EntryStatusFailed {
			resolved++
			log.Printf("[Reconcile] resolved entryId=%s platform=%s status=%s providerPostId=%s", o.id, o.platform, status, postID)
			h.emitEvent(o.clientID, realtimeEvent{
				Type:           "content.publish",
				ContentID:      o.contentID,
				Status:         status,
				ProviderPostID: postID,
				Platforms:      []string{o.platform},
			})
			h.rollupContentStatus(ctx, o.contentID, o.clientID)
		}
	}

	return resolved, nil
}

// rollupContentStatus recomputes a content item's terminal status once all of
// its entries for the latest submission have settled. All posted -> posted,
// otherwise failed. Items with open entries are left alone.
func (h *Handler) rollupContentStatus(ctx context.Context, contentID, clientID string) {
	var open, posted, failed int
	err := h.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status IN ('queued', 'posting')),
		       COUNT(*) FILTER (WHERE status = 'posted'),
		       COUNT(*) FILTER (WHERE status = 'failed')
		  FROM public.schedule_entries
		 WHERE content_id = $1 AND client_id = $2
	`, contentID, clientID).Scan(&open, &posted, &failed)
	if err != nil || open > 0 {
		return
	}

	status := models.ContentStatusPosted
	if posted == 0 && failed > 0 {
		status = models.ContentStatusFailed
	}

	_, _ = h.db.ExecContext(ctx, `
		UPDATE public.content_items
		   SET status = $3, updated_at = NOW()
		 WHERE id = $1 AND client_id = $2 AND status IN ('scheduled', 'posted')
	`, contentID, clientID, status)
}

func (h *Handler) bumpReconcileAttempts(ctx context.Context, postID string) {
	_, _ = h.db.ExecContext(ctx, `
		UPDATE public.schedule_entries
		   SET reconcile_attempts = reconcile_attempts + 1, updated_at = NOW()
		 WHERE provider_post_id = $1 AND status IN ('queued', 'posting')
	`, postID)
}

func (h *Handler) expireStaleEntries(ctx context.Context) {
	res, err := h.db.ExecContext(ctx, `
		UPDATE public.schedule_entries
		   SET status = 'failed',
		       error = 'reconcile_exhausted',
		       updated_at = NOW()
		 WHERE status IN ('queued', 'posting')
		   AND reconcile_attempts >= $1
	`, maxReconcileAttempts)
	if err != nil {
		log.Printf("[Reconcile] expire_failed err=%v", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("[Reconcile] expired=%d reason=reconcile_exhausted", n)
	}
}

// StartReconcileWorker runs a periodic poller that settles open schedule
// entries against the Publishing Provider. Wire it from `main` behind an env
// gate.
func (h *Handler) StartReconcileWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	log.Printf("[Reconcile] worker started interval=%s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweepCount := 0
	openStats := func() (open int, next sql.NullTime) {
		_ = h.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM public.schedule_entries WHERE status IN ('queued', 'posting')
		`).Scan(&open)
		_ = h.db.QueryRowContext(ctx, `
			SELECT MIN(scheduled_at) FROM public.schedule_entries
			 WHERE status = 'queued' AND scheduled_at > NOW()
		`).Scan(&next)
		return open, next
	}

	run := func() {
		sweepCount++
		backoffs := []time.Duration{700 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second}
		var n int
		var err error
		for attempt := 0; attempt < len(backoffs)+1; attempt++ {
			sweepCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
			n, err = h.reconcileOnce(sweepCtx, 25)
			cancel()
			if err == nil {
				break
			}
			if attempt < len(backoffs) {
				log.Printf("[Reconcile] sweep error attempt=%d/%d err=%v", attempt+1, len(backoffs)+1, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoffs[attempt]):
				}
				continue
			}
		}
		if err != nil {
			log.Printf("[Reconcile] sweep error final err=%v", err)
			return
		}
		if n > 0 {
			log.Printf("[Reconcile] resolved=%d", n)
			return
		}
		if sweepCount%10 == 0 {
			open, next := openStats()
			nextStr := ""
			if next.Valid {
				nextStr = next.Time.UTC().Format(time.RFC3339)
			}
			log.Printf("[Reconcile] sweep ok resolved=0 open=%d next=%s", open, nextStr)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Reconcile] worker stopped err=%v", ctx.Err())
			return
		case <-ticker.C:
			run()
		}
	}
}
