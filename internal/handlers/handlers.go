package handlers

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/brandcast-hq/brandcast/backend/internal/models"
	"github.com/brandcast-hq/brandcast/backend/internal/publish"
)

type Handler struct {
	db   *sql.DB
	rt   *realtimeHub
	orch *publish.Orchestrator
}

func New(db *sql.DB, provider publish.Provider) *Handler {
	return &Handler{
		db:   db,
		rt:   newRealtimeHub(),
		orch: publish.NewOrchestrator(db, provider),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var c models.Client
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if c.ID == "" {
		c.ID = fmt.Sprintf("cl_%s", randHex(12))
	}

	query := `
		INSERT INTO public.clients (id, name, external_ref, plan_tier, created_at)
		VALUES ($1, $2, $3, COALESCE($4, 'free'), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), public.clients.name),
			external_ref = COALESCE(NULLIF(EXCLUDED.external_ref, ''), public.clients.external_ref)
		RETURNING id, name, external_ref, plan_tier, posts_created_today, usage_reset_date, stripe_customer_id, stripe_subscription_id, created_at
	`

	err := h.db.QueryRow(query, c.ID, c.Name, c.ExternalRef, c.PlanTier).
		Scan(&c.ID, &c.Name, &c.ExternalRef, &c.PlanTier, &c.PostsCreatedToday, &c.UsageResetDate, &c.StripeCustomerID, &c.StripeSubscriptionID, &c.CreatedAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")

	var c models.Client
	query := `SELECT id, name, external_ref, plan_tier, posts_created_today, usage_reset_date, stripe_customer_id, stripe_subscription_id, created_at FROM public.clients WHERE id = $1`

	err := h.db.QueryRow(query, id).
		Scan(&c.ID, &c.Name, &c.ExternalRef, &c.PlanTier, &c.PostsCreatedToday, &c.UsageResetDate, &c.StripeCustomerID, &c.StripeSubscriptionID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "Client not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func randHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
