package payments

import "context"

// IntentStatus reprend les états d'un payment intent. IntentFailed n'est pas
// porté par l'intent lui-même : c'est le sens d'un événement payment_failed.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentProcessing            IntentStatus = "processing"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
	IntentFailed                IntentStatus = "failed"
)

// Intent : vue côté processeur d'une tentative de paiement, limitée à ce dont
// la réconciliation a besoin.
type Intent struct {
	ID             string
	ClientSecret   string
	Status         IntentStatus
	AmountMinor    int64
	Currency       string
	CustomerID     string
	ChargeID       string
	FailureMessage string
	Metadata       map[string]string
}

type IntentRequest struct {
	AmountMinor    int64
	Currency       string
	CustomerID     string
	Metadata       map[string]string
	IdempotencyKey string
}

type RefundStatus string

const (
	GatewayRefundPending   RefundStatus = "pending"
	GatewayRefundSucceeded RefundStatus = "succeeded"
	GatewayRefundFailed    RefundStatus = "failed"
	GatewayRefundCanceled  RefundStatus = "canceled"
)

type RefundRequest struct {
	IntentID       string
	AmountMinor    int64
	Reason         string
	Metadata       map[string]string
	IdempotencyKey string
}

type GatewayRefund struct {
	ID     string
	Status RefundStatus
}

// Gateway : le processeur de paiement. Les erreurs sont renvoyées telles que le
// processeur les donne ; les appelants ne réessaient jamais.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	// CustomerExists renvoie false pour un client inconnu ou supprimé.
	CustomerExists(ctx context.Context, customerID string) (bool, error)
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (Intent, error)
	CreateRefund(ctx context.Context, req RefundRequest) (GatewayRefund, error)
}
