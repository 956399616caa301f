package payments

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/customer"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/refund"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("storefront_back_end/payments")

// StripeGateway passe par les clients globaux du SDK Stripe : stripe.Key doit
// être posé avant usage.
type StripeGateway struct{}

func NewStripeGateway(secretKey string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{}
}

var _ Gateway = (*StripeGateway)(nil)

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, userID string) (id string, err error) {
	ctx, span := startSpan(ctx, "stripe.customer.create", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata("user_id", userID)

	c, err := customer.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (g *StripeGateway) CustomerExists(ctx context.Context, customerID string) (ok bool, err error) {
	ctx, span := startSpan(ctx, "stripe.customer.retrieve", attribute.String("stripe.customer", customerID))
	defer func() { endSpan(span, err) }()

	params := &stripe.CustomerParams{}
	params.Context = ctx
	c, err := customer.Get(customerID, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing {
			return false, nil
		}
		return false, err
	}
	return !c.Deleted, nil
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (in Intent, err error) {
	ctx, span := startSpan(ctx, "stripe.payment_intent.create",
		attribute.Int64("amount", req.AmountMinor), attribute.String("currency", req.Currency))
	defer func() { endSpan(span, err) }()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		return Intent{}, err
	}
	return intentFromStripe(pi), nil
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (in Intent, err error) {
	ctx, span := startSpan(ctx, "stripe.payment_intent.retrieve", attribute.String("stripe.intent", intentID))
	defer func() { endSpan(span, err) }()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(intentID, params)
	if err != nil {
		return Intent{}, err
	}
	return intentFromStripe(pi), nil
}

func (g *StripeGateway) CreateRefund(ctx context.Context, req RefundRequest) (r GatewayRefund, err error) {
	ctx, span := startSpan(ctx, "stripe.refund.create",
		attribute.String("stripe.intent", req.IntentID), attribute.Int64("amount", req.AmountMinor))
	defer func() { endSpan(span, err) }()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
		Amount:        stripe.Int64(req.AmountMinor),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	rf, err := refund.New(params)
	if err != nil {
		return GatewayRefund{}, err
	}
	return GatewayRefund{ID: rf.ID, Status: RefundStatus(rf.Status)}, nil
}

func intentFromStripe(pi *stripe.PaymentIntent) Intent {
	in := Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       IntentStatus(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
	if pi.Customer != nil {
		in.CustomerID = pi.Customer.ID
	}
	if pi.LatestCharge != nil {
		in.ChargeID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		in.FailureMessage = pi.LastPaymentError.Msg
	}
	return in
}
