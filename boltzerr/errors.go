// Package boltzerr defines the typed error kinds and domain-prefixed error
// codes surfaced by the swap nursery and its collaborators.
package boltzerr

import "fmt"

// Kind classifies an error by the recovery policy the nursery applies to it.
type Kind uint8

const (
	// KindTransientRPC covers chain or Lightning RPC I/O failures that are
	// expected to clear up on retry with backoff.
	KindTransientRPC Kind = iota

	// KindPermanentRPC covers a rejected broadcast or an invalid script;
	// the swap transitions to a failure state.
	KindPermanentRPC

	// KindPaymentFailure covers NO_ROUTE/TIMEOUT style Lightning payment
	// failures; the swap becomes refundable by the user.
	KindPaymentFailure

	// KindValidationFailure covers bad input supplied at swap creation,
	// surfaced to the caller before anything is persisted.
	KindValidationFailure

	// KindInvariantViolation covers a state mismatch discovered at load
	// time; the nursery must abort rather than proceed.
	KindInvariantViolation

	// KindTimeout covers the normal block-height expiry path.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindTransientRPC:
		return "TransientRpc"
	case KindPermanentRPC:
		return "PermanentRpc"
	case KindPaymentFailure:
		return "PaymentFailure"
	case KindValidationFailure:
		return "ValidationFailure"
	case KindInvariantViolation:
		return "InvariantViolation"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Domain identifies the subsystem that originated an Error, used as the code
// prefix in the surfaced {code, message} payload.
type Domain string

const (
	DomainSwap     Domain = "Swap"
	DomainWallet   Domain = "Wallet"
	DomainChain    Domain = "Chain"
	DomainLightning Domain = "Lightning"
)

// Error is a domain-prefixed, numeric-within, kind-classified error. It is
// the concrete type every nursery collaborator returns so that the nursery's
// dispatch loop can type-switch on Kind without string matching.
type Error struct {
	Domain  Domain
	Code    int
	Kind    Kind
	Message string

	// Cause, when non-nil, is the underlying error that triggered this
	// one. It is never part of Code/Message, only of Error()/Unwrap().
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s%d: %s: %v", e.Domain, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s%d: %s", e.Domain, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an Error.
func New(domain Domain, code int, kind Kind, message string) *Error {
	return &Error{Domain: domain, Code: code, Kind: kind, Message: message}
}

// Wrap constructs an Error carrying an underlying cause.
func Wrap(domain Domain, code int, kind Kind, message string, cause error) *Error {
	return &Error{Domain: domain, Code: code, Kind: kind, Message: message, Cause: cause}
}

// Well-known swap-domain errors referenced directly by callers instead of
// being constructed inline every time.
var (
	ErrInsufficientAmount = New(DomainSwap, 1, KindValidationFailure,
		"INSUFFICIENT_AMOUNT")
	ErrScriptTypeNotFound = New(DomainSwap, 2, KindValidationFailure,
		"SCRIPT_TYPE_NOT_FOUND")
	ErrPreimageHashInUse = New(DomainSwap, 5, KindValidationFailure,
		"preimage hash already has a live swap")
	ErrTimeoutTooSoon = New(DomainSwap, 6, KindValidationFailure,
		"timeout block height too close to current tip")
	ErrAlreadyBroadcasting = New(DomainSwap, 7, KindInvariantViolation,
		"swap already has a claim or refund transaction in flight")

	ErrNoRoute = New(DomainLightning, 1, KindPaymentFailure, "NO_ROUTE")
	ErrPaymentTimeout = New(DomainLightning, 2, KindPaymentFailure, "TIMEOUT")
	ErrInvoiceAlreadyPaid = New(DomainLightning, 3, KindPaymentFailure,
		"INVOICE_ALREADY_PAID")
	ErrIncorrectPaymentDetails = New(DomainLightning, 4, KindPaymentFailure,
		"INCORRECT_PAYMENT_DETAILS")
)
