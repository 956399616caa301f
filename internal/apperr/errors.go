// Package apperr définit la taxonomie d'erreurs partagée par les services et la
// couche HTTP. Chaque erreur porte un code stable ; les handlers traduisent les
// codes en statuts HTTP sans lire les messages.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeEmptyCart            Code = "empty_cart"
	CodeInsufficientStock    Code = "insufficient_stock"
	CodeIllegalTransition    Code = "illegal_transition"
	CodeNotCancellable       Code = "not_cancellable"
	CodeWrongMethodEndpoint  Code = "wrong_method_endpoint"
	CodeUnsupportedMethod    Code = "unsupported_method"
	CodeInvalidSignature     Code = "invalid_signature"
	CodeInvalidPayload       Code = "invalid_payload"
	CodeRefundExceedsBalance Code = "refund_exceeds_balance"
	CodeGateway              Code = "gateway_error"
	CodeNotFound             Code = "not_found"
	CodeForbidden            Code = "forbidden"
	CodeValidation           Code = "validation_error"
	CodeOrderNotPayable      Code = "order_not_payable"
	CodePaymentExists        Code = "payment_exists"
	CodePaymentNotRefundable Code = "payment_not_refundable"
	CodeConflict             Code = "conflict"
)

type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is compare uniquement le code : les sentinelles ci-dessous marchent avec errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrEmptyCart            = &Error{Code: CodeEmptyCart, Message: "cart is empty"}
	ErrInsufficientStock    = &Error{Code: CodeInsufficientStock, Message: "insufficient stock"}
	ErrIllegalTransition    = &Error{Code: CodeIllegalTransition, Message: "illegal status transition"}
	ErrNotCancellable       = &Error{Code: CodeNotCancellable, Message: "order cannot be cancelled"}
	ErrWrongMethodEndpoint  = &Error{Code: CodeWrongMethodEndpoint, Message: "use the cash-on-delivery endpoint for this payment method"}
	ErrUnsupportedMethod    = &Error{Code: CodeUnsupportedMethod, Message: "payment method not supported yet"}
	ErrInvalidSignature     = &Error{Code: CodeInvalidSignature, Message: "invalid signature"}
	ErrInvalidPayload       = &Error{Code: CodeInvalidPayload, Message: "invalid payload"}
	ErrRefundExceedsBalance = &Error{Code: CodeRefundExceedsBalance, Message: "refund exceeds remaining balance"}
	ErrGateway              = &Error{Code: CodeGateway, Message: "payment gateway error"}
	ErrNotFound             = &Error{Code: CodeNotFound, Message: "not found"}
	ErrForbidden            = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrValidation           = &Error{Code: CodeValidation, Message: "invalid request"}
	ErrOrderNotPayable      = &Error{Code: CodeOrderNotPayable, Message: "order cannot be paid at this stage"}
	ErrPaymentExists        = &Error{Code: CodePaymentExists, Message: "order already has a payment"}
	ErrPaymentNotRefundable = &Error{Code: CodePaymentNotRefundable, Message: "only completed payments can be refunded"}
	ErrConflict             = &Error{Code: CodeConflict, Message: "concurrent update"}
)

func New(code Code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func InsufficientStock(productID, product string, available, requested int) *Error {
	return New(CodeInsufficientStock,
		fmt.Sprintf("insufficient stock for %s: only %d available", product, available),
		map[string]any{"product_id": productID, "product": product, "available": available, "requested": requested})
}

func IllegalTransition(from, to string) *Error {
	return New(CodeIllegalTransition,
		fmt.Sprintf("cannot transition from %s to %s", from, to),
		map[string]any{"from": from, "to": to})
}

func NotCancellable(status string) *Error {
	return New(CodeNotCancellable,
		fmt.Sprintf("cannot cancel order with status: %s", status),
		map[string]any{"status": status})
}

func RefundExceedsBalance(remaining string) *Error {
	return New(CodeRefundExceedsBalance,
		fmt.Sprintf("refund amount cannot exceed remaining amount: %s", remaining),
		map[string]any{"remaining": remaining})
}

func NotFound(what string) *Error {
	return New(CodeNotFound, what+" not found", nil)
}

func Forbidden(message string) *Error {
	return New(CodeForbidden, message, nil)
}

func Validation(message string) *Error {
	return New(CodeValidation, message, nil)
}

// Gateway enveloppe un échec remonté par le processeur de paiement. Le message
// est renvoyé tel quel.
func Gateway(err error) *Error {
	return &Error{Code: CodeGateway, Message: err.Error(), Err: err}
}

// CodeOf renvoie le code porté par err, ou "" pour une erreur étrangère.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// DetailsOf renvoie les détails structurés portés par err, s'il y en a.
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
