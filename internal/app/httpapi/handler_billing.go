package httpapi

import (
	"net/http"

	svcerrors "github.com/reviewgame/server/internal/errors"
	"github.com/reviewgame/server/internal/httputil"
)

// Stripe webhook payloads are small; anything past this is hostile.
const maxWebhookBody = 1 << 20

func (h *handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	view, err := h.app.Billing.Subscription(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) createCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	url, err := h.app.Billing.Checkout(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *handler) createPortal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	url, err := h.app.Billing.Portal(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// stripeWebhook ingests subscription lifecycle events. The raw body is read
// verbatim; signature verification needs the exact bytes Stripe signed.
func (h *handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := httputil.ReadAllStrict(r.Body, maxWebhookBody)
	if err != nil {
		h.writeError(w, r, svcerrors.InvalidInput("unreadable webhook body"))
		return
	}

	if err := h.app.Billing.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
