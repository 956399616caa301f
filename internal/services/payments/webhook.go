package payments

import (
	"encoding/json"
	"strings"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"storefront_back_end/internal/apperr"
)

const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

// Event : livraison webhook vérifiée et décodée. Intent n'est rempli que pour
// les événements payment_intent.*.
type Event struct {
	ID     string
	Type   string
	Intent Intent
}

type Verifier interface {
	Verify(payload []byte, signatureHeader string) (Event, error)
}

// StripeVerifier vérifie l'en-tête Stripe-Signature avec le secret de
// l'endpoint avant de faire confiance au contenu.
type StripeVerifier struct {
	secret string
}

func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) (Event, error) {
	if v.secret == "" || signatureHeader == "" {
		return Event{}, apperr.ErrInvalidSignature
	}
	if err := webhook.ValidatePayload(payload, signatureHeader, v.secret); err != nil {
		return Event{}, apperr.Wrap(apperr.CodeInvalidSignature, "invalid signature", err)
	}

	var se stripe.Event
	if err := json.Unmarshal(payload, &se); err != nil {
		return Event{}, apperr.Wrap(apperr.CodeInvalidPayload, "invalid payload", err)
	}
	if se.ID == "" || se.Type == "" {
		return Event{}, apperr.ErrInvalidPayload
	}

	ev := Event{ID: se.ID, Type: string(se.Type)}
	if strings.HasPrefix(ev.Type, "payment_intent.") {
		if se.Data == nil || len(se.Data.Raw) == 0 {
			return Event{}, apperr.ErrInvalidPayload
		}
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(se.Data.Raw, &pi); err != nil {
			return Event{}, apperr.Wrap(apperr.CodeInvalidPayload, "invalid payment intent", err)
		}
		if pi.ID == "" {
			return Event{}, apperr.ErrInvalidPayload
		}
		ev.Intent = intentFromStripe(&pi)
	}
	return ev, nil
}
