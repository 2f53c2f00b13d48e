package handlers

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

type BillingPlan struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Tier          string  `json:"tier"`
	PriceCents    int     `json:"priceCents"`
	Currency      string  `json:"currency"`
	Interval      string  `json:"interval"`
	StripePriceID *string `json:"stripePriceId,omitempty"`
	IsActive      bool    `json:"isActive"`
}

// Stripe client instance
var stripeClient *client.API

func initStripe() {
	if stripeClient != nil {
		return
	}

	secretKey := os.Getenv("STRIPE_SECRET_KEY")
	if secretKey == "" {
		log.Printf("[Billing] STRIPE_SECRET_KEY not set, Stripe features disabled")
		return
	}

	stripeClient = &client.API{}
	stripeClient.Init(secretKey, nil)
}

// GetBillingPlans returns the purchasable plan tiers.
func (h *Handler) GetBillingPlans(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	rows, err := h.db.Query(`
		SELECT id, name, tier, price_cents, currency, interval, stripe_price_id, is_active
		FROM public.billing_plans
		WHERE is_active = true
		ORDER BY price_cents ASC
	`)
	if err != nil {
		log.Printf("[Billing][Plans] query error: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer rows.Close()

	var plans []BillingPlan
	for rows.Next() {
		var p BillingPlan
		var stripePriceID sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Tier, &p.PriceCents, &p.Currency, &p.Interval, &stripePriceID, &p.IsActive); err != nil {
			log.Printf("[Billing][Plans] scan error: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		p.StripePriceID = nullStringPtr(stripePriceID)
		plans = append(plans, p)
	}

	if err := rows.Err(); err != nil {
		log.Printf("[Billing][Plans] rows error: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, plans)
}

// GetClientSubscription returns the billing state of one client workspace.
func (h *Handler) GetClientSubscription(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	clientID := pathVar(r, "clientId")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}

	var tier string
	var custID, subID sql.NullString
	err := h.db.QueryRow(`
		SELECT COALESCE(plan_tier, 'free'), stripe_customer_id, stripe_subscription_id
		FROM public.clients
		WHERE id = $1
	`, clientID).Scan(&tier, &custID, &subID)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "Client not found")
		return
	}
	if err != nil {
		log.Printf("[Billing][Subscription] query error clientId=%s: %v", clientID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"clientId":             clientID,
		"planTier":             tier,
		"stripeCustomerId":     nullStringPtr(custID),
		"stripeSubscriptionId": nullStringPtr(subID),
	})
}

// StripeWebhook handles Stripe webhook events.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	initStripe()

	const MaxBodyBytes = int64(65536)
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("[Billing][Webhook] read error: %v", err)
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if webhookSecret != "" {
		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			log.Printf("[Billing][Webhook] missing Stripe-Signature header")
			writeError(w, http.StatusBadRequest, "Missing signature")
			return
		}

		event, err := webhook.ConstructEvent(payload, sig, webhookSecret)
		if err != nil {
			log.Printf("[Billing][Webhook] signature verification error: %v", err)
			writeError(w, http.StatusBadRequest, "Invalid signature")
			return
		}

		h.processStripeEvent(event)
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}

	// Fallback: process without verification (not recommended for production).
	log.Printf("[Billing][Webhook] STRIPE_WEBHOOK_SECRET not set, skipping signature verification")
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("[Billing][Webhook] unmarshal error: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	h.processStripeEvent(event)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) processStripeEvent(event stripe.Event) {
	// Keep a dedup record of everything received.
	_, err := h.db.Exec(`
		INSERT INTO public.billing_events (id, stripe_event_id, stripe_event_type, data, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (stripe_event_id) DO NOTHING
	`, "evt_"+randHex(12), event.ID, event.Type, event.Data.Raw)
	if err != nil {
		log.Printf("[Billing][Webhook] event save error: %v", err)
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		h.handleSubscriptionEvent(event)
	case "customer.subscription.deleted":
		h.handleSubscriptionCancellation(event)
	case "invoice.payment_failed":
		h.handlePaymentFailure(event)
	default:
		log.Printf("[Billing][Webhook] unhandled event type: %s", event.Type)
	}
}

// tierForPrice maps a Stripe price id to a plan tier via billing_plans.
func (h *Handler) tierForPrice(priceID string) string {
	var tier string
	err := h.db.QueryRow(`
		SELECT tier FROM public.billing_plans WHERE stripe_price_id = $1 AND is_active = true
	`, priceID).Scan(&tier)
	if err != nil {
		return "free"
	}
	return tier
}

func (h *Handler) handleSubscriptionEvent(event stripe.Event) {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		log.Printf("[Billing][SubscriptionEvent] unmarshal error: %v", err)
		return
	}
	if subscription.Customer == nil {
		return
	}

	tier := "free"
	if subscription.Status == stripe.SubscriptionStatusActive || subscription.Status == stripe.SubscriptionStatusTrialing {
		if subscription.Items != nil && len(subscription.Items.Data) > 0 && subscription.Items.Data[0].Price != nil {
			tier = h.tierForPrice(subscription.Items.Data[0].Price.ID)
		}
	}

	_, err := h.db.Exec(`
		UPDATE public.clients
		   SET plan_tier = $2,
		       stripe_subscription_id = $3
		 WHERE stripe_customer_id = $1
	`, subscription.Customer.ID, tier, subscription.ID)
	if err != nil {
		log.Printf("[Billing][SubscriptionEvent] update error: %v", err)
		return
	}

	log.Printf("[Billing][SubscriptionEvent] customer=%s subscription=%s status=%s tier=%s",
		subscription.Customer.ID, subscription.ID, subscription.Status, tier)
}

func (h *Handler) handleSubscriptionCancellation(event stripe.Event) {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		log.Printf("[Billing][CancellationEvent] unmarshal error: %v", err)
		return
	}

	_, err := h.db.Exec(`
		UPDATE public.clients
		   SET plan_tier = 'free',
		       stripe_subscription_id = NULL
		 WHERE stripe_subscription_id = $1
	`, subscription.ID)
	if err != nil {
		log.Printf("[Billing][CancellationEvent] update error: %v", err)
	}
}

func (h *Handler) handlePaymentFailure(event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		log.Printf("[Billing][PaymentFailure] unmarshal error: %v", err)
		return
	}
	if invoice.Customer == nil {
		return
	}

	log.Printf("[Billing][PaymentFailure] payment failed for invoice %s, customer %s", invoice.ID, invoice.Customer.ID)
}
