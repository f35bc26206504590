package sale

import (
	"errors"
	"fmt"
)

// Kind identifies why an entry point rejected a call. The set is closed:
// every rejection reported by the contract carries exactly one of these.
type Kind uint8

const (
	NotAdmin Kind = iota + 1
	RequirementNotMet
	SalePaused
	SaleEnded
	NotWhitelisted
	IndividualExceed
	MaxExceed
)

// kindCodes are the wire codes clients match on. IndividualExceed keeps the
// historical spelling so existing integrations continue to recognise it.
var kindCodes = map[Kind]string{
	NotAdmin:          "NotAdmin",
	RequirementNotMet: "RequirementNotMet",
	SalePaused:        "SalePaused",
	SaleEnded:         "SaleEnded",
	NotWhitelisted:    "NotWhitelisted",
	IndividualExceed:  "InidividualExceed",
	MaxExceed:         "MaxExceed",
}

// Kinds returns every rejection kind in declaration order.
func Kinds() []Kind {
	return []Kind{NotAdmin, RequirementNotMet, SalePaused, SaleEnded, NotWhitelisted, IndividualExceed, MaxExceed}
}

// String returns the wire code of k.
func (k Kind) String() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind maps a wire code back to its Kind.
func ParseKind(code string) (Kind, bool) {
	for k, c := range kindCodes {
		if c == code {
			return k, true
		}
	}
	return 0, false
}

// Error is a rejection raised by an entry point. The call it rejects has no
// effect on the contract state.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "sale: " + e.Kind.String()
	}
	return fmt.Sprintf("sale: %s (%s)", e.Kind, e.Detail)
}

// Is reports whether target is a rejection of the same kind, so that
// errors.Is(err, ErrSaleEnded) matches regardless of Detail.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func reject(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the rejection kind from err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Rejection sentinels, one per Kind.
var (
	ErrNotAdmin          = &Error{Kind: NotAdmin}
	ErrRequirementNotMet = &Error{Kind: RequirementNotMet}
	ErrSalePaused        = &Error{Kind: SalePaused}
	ErrSaleEnded         = &Error{Kind: SaleEnded}
	ErrNotWhitelisted    = &Error{Kind: NotWhitelisted}
	ErrIndividualExceed  = &Error{Kind: IndividualExceed}
	ErrMaxExceed         = &Error{Kind: MaxExceed}
)

// Errors raised by the runtime around the entry points. None of them leave
// a partial state change behind.
var (
	// ErrInvalidParams indicates deployment parameters that cannot form a sale.
	ErrInvalidParams = errors.New("sale: invalid deployment parameters")

	// ErrNotDeployed indicates the store holds no sale state.
	ErrNotDeployed = errors.New("sale: not deployed")

	// ErrAlreadyDeployed indicates a deployment over an existing sale.
	ErrAlreadyDeployed = errors.New("sale: already deployed")

	// ErrArithmeticOverflow indicates an amount exceeded 256 bits.
	ErrArithmeticOverflow = errors.New("sale: arithmetic overflow")

	// ErrDispatchFailed indicates the outbound token credit or payout failed
	// and the invocation was rolled back.
	ErrDispatchFailed = errors.New("sale: dispatch failed")

	// ErrReentrantCall indicates an entry point was invoked from inside a
	// collaborator call issued by another entry point.
	ErrReentrantCall = errors.New("sale: re-entrant call")

	// ErrCommitFailed indicates the new state could not be persisted.
	ErrCommitFailed = errors.New("sale: commit failed")

	// ErrCollectFailed indicates the value attached to a call could not be
	// taken into custody, so the call did not run.
	ErrCollectFailed = errors.New("sale: attached value not collected")

	// ErrPaymentUsed indicates a payment already backed an earlier call.
	ErrPaymentUsed = errors.New("sale: payment already used")

	// ErrBusy indicates an invocation arrived while another one was waiting
	// on a collaborator.
	ErrBusy = errors.New("sale: invocation in flight")
)
