/*
voucher.go - Stored-value voucher issuance, validation, and redemption

PURPOSE:
  Issues vouchers with collision-free human-friendly codes, validates
  them as a pure read (status derived from remaining value and expiry),
  and redeems them with an atomic conditional decrement so concurrent
  redemptions of the same code can never overspend the balance. This is
  the single hard real-time correctness requirement in the engine.

CODE FORMAT:
  Twelve characters from an alphabet without visually ambiguous glyphs
  (no I/O/0/1), split into three dash-separated groups: XXXX-XXXX-XXXX.
  Collisions are checked against the store and retried.

SEE ALSO:
  - store.go: DecrementVoucher contract
*/
package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeGroups   = 3
	codeGroupLen = 4

	defaultCodeAttempts = 5
	defaultApplyRetries = 3
)

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// VoucherState is the outcome of validating a code.
type VoucherState string

const (
	VoucherStateValid    VoucherState = "valid"
	VoucherStateNotFound VoucherState = "not_found"
	VoucherStateExpired  VoucherState = "expired"
	VoucherStateUsed     VoucherState = "used"
	VoucherStateInactive VoucherState = "inactive" // awaiting payment confirmation
)

// VoucherValidation is the structured result of Validate.
type VoucherValidation struct {
	Code      string
	State     VoucherState
	Remaining decimal.Decimal
	ExpiresAt *time.Time
}

// =============================================================================
// VOUCHER LEDGER
// =============================================================================

type VoucherLedger struct {
	Store  TxStore
	Events Publisher
	Clock  func() time.Time

	// CodeAttempts bounds collision retries in GenerateCode (default 5).
	CodeAttempts int

	// ApplyRetries bounds CAS retries in Apply (default 3).
	ApplyRetries int
}

func (vl *VoucherLedger) now() time.Time { return nowFunc(vl.Clock) }

func (vl *VoucherLedger) codeAttempts() int {
	if vl.CodeAttempts > 0 {
		return vl.CodeAttempts
	}
	return defaultCodeAttempts
}

func (vl *VoucherLedger) applyRetries() int {
	if vl.ApplyRetries > 0 {
		return vl.ApplyRetries
	}
	return defaultApplyRetries
}

// =============================================================================
// ISSUANCE
// =============================================================================

// GenerateCode produces a fresh code, regenerating on collision with an
// existing voucher. Exhausting the retry budget returns ErrCodeExhausted;
// with a 32-character alphabet and 12 positions that indicates a store
// problem, not bad luck.
func (vl *VoucherLedger) GenerateCode(ctx context.Context) (string, error) {
	for i := 0; i < vl.codeAttempts(); i++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		existing, err := vl.Store.GetVoucher(ctx, code)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", ErrCodeExhausted
}

func randomCode() (string, error) {
	raw := make([]byte, codeGroups*codeGroupLen)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	groups := make([]string, codeGroups)
	for g := 0; g < codeGroups; g++ {
		chars := make([]byte, codeGroupLen)
		for i := 0; i < codeGroupLen; i++ {
			chars[i] = codeAlphabet[int(raw[g*codeGroupLen+i])%len(codeAlphabet)]
		}
		groups[g] = string(chars)
	}
	return strings.Join(groups, "-"), nil
}

// Issue creates a voucher from a template. The recipient is informational
// for the notification layer; the voucher itself is bearer-style.
func (vl *VoucherLedger) Issue(ctx context.Context, tpl VoucherTemplate, recipient string) (*Voucher, error) {
	if !tpl.Value.IsPositive() {
		return nil, fmt.Errorf("voucher value must be positive, got %s", tpl.Value)
	}
	code, err := vl.GenerateCode(ctx)
	if err != nil {
		return nil, err
	}
	now := vl.now()
	v := Voucher{
		Code:           code,
		InitialValue:   tpl.Value,
		RemainingValue: tpl.Value,
		PendingPayment: tpl.PendingPayment,
		CreatedAt:      now,
	}
	if tpl.ValidDays > 0 {
		exp := now.AddDate(0, 0, tpl.ValidDays)
		v.ExpiresAt = &exp
	}
	if err := vl.Store.CreateVoucher(ctx, v); err != nil {
		return nil, err
	}
	log.Printf("[Vouchers] issued %s (value %s) for %s", code, tpl.Value, recipient)
	return &v, nil
}

// Activate clears the pending-payment flag once payment is confirmed.
func (vl *VoucherLedger) Activate(ctx context.Context, code string) error {
	v, err := vl.Store.GetVoucher(ctx, code)
	if err != nil {
		return err
	}
	if v == nil {
		return &NotFoundError{Kind: "voucher", ID: code}
	}
	if !v.PendingPayment {
		return nil
	}
	v.PendingPayment = false
	return vl.Store.SaveVoucher(ctx, *v)
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate classifies a code without mutating anything. Status is derived
// from the stored remaining value and expiry at read time.
func (vl *VoucherLedger) Validate(ctx context.Context, code string) (*VoucherValidation, error) {
	v, err := vl.Store.GetVoucher(ctx, code)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return &VoucherValidation{Code: code, State: VoucherStateNotFound}, nil
	}
	result := &VoucherValidation{Code: code, Remaining: v.RemainingValue, ExpiresAt: v.ExpiresAt}
	switch v.EffectiveStatus(vl.now()) {
	case VoucherPendingPayment:
		result.State = VoucherStateInactive
	case VoucherExpired:
		result.State = VoucherStateExpired
	case VoucherUsed:
		result.State = VoucherStateUsed
	default:
		result.State = VoucherStateValid
	}
	return result, nil
}

// =============================================================================
// REDEMPTION
// =============================================================================

// Apply redeems up to amount from the voucher, returning the amount
// actually applied (capped at the remaining value) and the new remaining
// value. The decrement is a conditional write retried on conflict, so a
// code becoming invalid or drained between validation and application is
// caught rather than double-spent.
func (vl *VoucherLedger) Apply(ctx context.Context, code string, amount decimal.Decimal, reservationID ReservationID) (applied, remaining decimal.Decimal, err error) {
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("apply amount must be positive, got %s", amount)
	}

	for attempt := 0; attempt < vl.applyRetries(); attempt++ {
		validation, err := vl.Validate(ctx, code)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		if validation.State != VoucherStateValid {
			return decimal.Zero, decimal.Zero, &VoucherError{Code: code, State: validation.State}
		}

		applied = decimal.Min(validation.Remaining, amount)
		remaining = validation.Remaining.Sub(applied)

		err = vl.Store.DecrementVoucher(ctx, code, validation.Remaining, remaining)
		if errors.Is(err, ErrConcurrentModification) {
			continue // lost the race; re-validate and retry
		}
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}

		now := vl.now()
		use := VoucherUse{ReservationID: reservationID, Amount: applied, At: now}
		if err := vl.Store.AppendVoucherUse(ctx, code, use); err != nil {
			return applied, remaining, err
		}
		publish(ctx, vl.Events, VoucherRedeemed{
			Code: code, ReservationID: reservationID,
			Applied: applied, Remaining: remaining, At: now,
		})
		return applied, remaining, nil
	}
	return decimal.Zero, decimal.Zero, fmt.Errorf("voucher %s: %w", code, ErrConcurrentModification)
}
