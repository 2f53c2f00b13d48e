package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
)

// PlanLimits defines the limits for each plan tier.
type PlanLimits struct {
	ConnectedAccounts int `json:"connected_accounts"` // -1 = unlimited
	PostsPerDay       int `json:"posts_per_day"`      // -1 = unlimited
}

// PlanEnforcer is an HTTP middleware that enforces plan tier limits on
// account connections and daily publish volume.
type PlanEnforcer struct {
	DB     *sql.DB
	Limits map[string]PlanLimits
}

func NewPlanEnforcer(db *sql.DB) *PlanEnforcer {
	limits := map[string]PlanLimits{
		"free": {
			ConnectedAccounts: 3,
			PostsPerDay:       5,
		},
		"pro": {
			ConnectedAccounts: 15,
			PostsPerDay:       50,
		},
		"agency": {
			ConnectedAccounts: -1,
			PostsPerDay:       -1,
		},
	}

	return &PlanEnforcer{
		DB:     db,
		Limits: limits,
	}
}

func (pe *PlanEnforcer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pe.shouldSkip(r) {
			next.ServeHTTP(w, r)
			return
		}

		clientID := pe.extractClientID(r)
		if clientID == "" {
			next.ServeHTTP(w, r)
			return
		}

		tier, err := pe.getClientTier(clientID)
		if err != nil {
			tier = "free"
		}

		if !pe.checkLimits(r, clientID, tier) {
			pe.respondLimitExceeded(w, tier)
			return
		}

		ctx := context.WithValue(r.Context(), planTierKey{}, tier)
		ctx = context.WithValue(ctx, planLimitsKey{}, pe.Limits[tier])
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type planTierKey struct{}
type planLimitsKey struct{}

// PlanTierFromContext returns the tier stashed by the middleware, or "free".
func PlanTierFromContext(ctx context.Context) string {
	if tier, ok := ctx.Value(planTierKey{}).(string); ok && tier != "" {
		return tier
	}
	return "free"
}

// shouldSkip returns true for routes that don't need plan enforcement.
func (pe *PlanEnforcer) shouldSkip(r *http.Request) bool {
	skipPaths := []string{
		"/api/clients",
		"/api/billing",
		"/health",
		"/api/events",
		"/callback",
	}

	// Client CRUD itself is exempt, but client-scoped subresources are not.
	if strings.HasPrefix(r.URL.Path, "/api/clients/") &&
		(strings.Contains(r.URL.Path, "/accounts") || strings.Contains(r.URL.Path, "/content")) {
		return false
	}

	for _, path := range skipPaths {
		if strings.HasPrefix(r.URL.Path, path) {
			return true
		}
	}

	return false
}

// extractClientID pulls the client id out of /api/clients/{clientId}/... paths.
func (pe *PlanEnforcer) extractClientID(r *http.Request) string {
	parts := strings.Split(r.URL.Path, "/")
	for i, part := range parts {
		if part == "clients" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func (pe *PlanEnforcer) getClientTier(clientID string) (string, error) {
	var tier string
	err := pe.DB.QueryRow(`
		SELECT COALESCE(plan_tier, 'free')
		FROM public.clients
		WHERE id = $1
	`, clientID).Scan(&tier)

	if err == sql.ErrNoRows {
		return "free", nil
	}

	return tier, err
}

func (pe *PlanEnforcer) checkLimits(r *http.Request, clientID, tier string) bool {
	limits, ok := pe.Limits[tier]
	if !ok {
		limits = pe.Limits["free"]
	}

	if strings.HasSuffix(r.URL.Path, "/accounts") && r.Method == http.MethodPost {
		var count int
		pe.DB.QueryRow(`
			SELECT COUNT(*) FROM public.platform_accounts WHERE client_id = $1 AND is_active
		`, clientID).Scan(&count)

		if limits.ConnectedAccounts >= 0 && count >= limits.ConnectedAccounts {
			return false
		}
	}

	if strings.HasSuffix(r.URL.Path, "/schedule") && r.Method == http.MethodPost {
		var used int
		// The counter resets lazily; anything stamped before today counts as zero.
		pe.DB.QueryRow(`
			SELECT CASE WHEN usage_reset_date IS NULL OR usage_reset_date < CURRENT_DATE
			            THEN 0 ELSE posts_created_today END
			FROM public.clients WHERE id = $1
		`, clientID).Scan(&used)

		if limits.PostsPerDay >= 0 && used >= limits.PostsPerDay {
			return false
		}
	}

	return true
}

func (pe *PlanEnforcer) respondLimitExceeded(w http.ResponseWriter, tier string) {
	limits := pe.Limits[tier]

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)

	response := map[string]interface{}{
		"error":       "plan_limit_exceeded",
		"message":     "Your current plan has reached its limits",
		"plan":        tier,
		"limits":      limits,
		"upgrade_url": "/account/billing",
	}

	json.NewEncoder(w).Encode(response)
}
