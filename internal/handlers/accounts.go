package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/brandcast-hq/brandcast/backend/internal/models"
)

type connectAccountRequest struct {
	Platform          string `json:"platform"`
	ProviderAccountID string `json:"providerAccountId"`
}

// ConnectPlatformAccount records a connected social account for a client.
// At most one active row may exist per (client, platform); connecting again
// supersedes the previous row instead of stacking duplicates.
func (h *Handler) ConnectPlatformAccount(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	clientID := pathVar(r, "clientId")

	var req connectAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	platform := strings.ToLower(strings.TrimSpace(req.Platform))
	if !models.IsValidPlatform(platform) {
		writeError(w, http.StatusBadRequest, "invalid_platform: "+req.Platform)
		return
	}
	if strings.TrimSpace(req.ProviderAccountID) == "" {
		writeError(w, http.StatusBadRequest, "providerAccountId is required")
		return
	}

	tx, err := h.db.Begin()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE public.platform_accounts
		   SET is_active = FALSE
		 WHERE client_id = $1 AND platform = $2 AND is_active
	`, clientID, platform); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	acc := models.PlatformAccount{ClientID: clientID, Platform: platform}
	err = tx.QueryRow(`
		INSERT INTO public.platform_accounts (id, client_id, platform, provider_account_id, is_active, connected_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW())
		RETURNING id, provider_account_id, connected_at
	`, "acct_"+randHex(12), clientID, platform, strings.TrimSpace(req.ProviderAccountID)).
		Scan(&acc.ID, &acc.ProviderAccountID, &acc.ConnectedAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	acc.IsActive = true

	if err := tx.Commit(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("[Accounts] connected clientId=%s platform=%s accountId=%s", clientID, platform, acc.ID)
	writeJSON(w, http.StatusOK, acc)
}

// ListPlatformAccounts returns the active connections for a client.
func (h *Handler) ListPlatformAccounts(w http.ResponseWriter, r *http.Request) {
	clientID := pathVar(r, "clientId")

	rows, err := h.db.Query(`
		SELECT id, client_id, platform, provider_account_id, is_active, connected_at
		  FROM public.platform_accounts
		 WHERE client_id = $1 AND is_active
		 ORDER BY connected_at DESC
	`, clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer rows.Close()

	accounts := make([]models.PlatformAccount, 0, 8)
	for rows.Next() {
		var a models.PlatformAccount
		if err := rows.Scan(&a.ID, &a.ClientID, &a.Platform, &a.ProviderAccountID, &a.IsActive, &a.ConnectedAt); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		accounts = append(accounts, a)
	}

	writeJSON(w, http.StatusOK, accounts)
}

// DisconnectPlatformAccount deactivates one connection. The row is kept for
// history; published entries still reference its platform.
func (h *Handler) DisconnectPlatformAccount(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodDelete) {
		return
	}
	clientID := pathVar(r, "clientId")
	accountID := pathVar(r, "accountId")

	res, err := h.db.Exec(`
		UPDATE public.platform_accounts
		   SET is_active = FALSE
		 WHERE id = $1 AND client_id = $2 AND is_active
	`, accountID, clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "Account not found")
		return
	}

	log.Printf("[Accounts] disconnected clientId=%s accountId=%s", clientID, accountID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
