package accountbox

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Error codes reported to callers of the relayer API
const (
	ErrCodeExpiredRequest        = "expired_request"
	ErrCodeExpiredSignature      = "expired_signature"
	ErrCodeInvalidSigner         = "invalid_signer"
	ErrCodeInvalidNonce          = "invalid_nonce"
	ErrCodeInvalidSignature      = "invalid_signature"
	ErrCodeUntrustedTarget       = "untrusted_target"
	ErrCodeUnauthorizedAccount   = "unauthorized_account"
	ErrCodeUnauthorizedUpgrade   = "unauthorized_upgrade"
	ErrCodeInsufficientFunds     = "insufficient_funds"
	ErrCodeMismatchedValue       = "mismatched_value"
	ErrCodeMissingRole           = "missing_role"
	ErrCodeIncompatibleLayout    = "incompatible_layout"
	ErrCodeInsufficientBalance   = "insufficient_balance"
	ErrCodeInsufficientAllowance = "insufficient_allowance"
	ErrCodeNotFound              = "not_found"
	ErrCodeUnsupported           = "unsupported_capability"
	ErrCodeInternal              = "internal_error"
)

var (
	// ErrAccountNotFound is returned by registry lookups that are out of range
	ErrAccountNotFound = errors.New("account not found")

	// ErrUnsupportedCapability is returned when the active factory implementation lacks a method
	ErrUnsupportedCapability = errors.New("capability not supported by the active implementation")

	// ErrAlreadyInitialized is returned by initializers that already ran for their version
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrNotImplementation is returned when an upgrade target is not a factory implementation
	ErrNotImplementation = errors.New("target is not a factory implementation")

	// ErrDirectCall is returned when an implementation is called without a handle in front of it
	ErrDirectCall = errors.New("implementation must be called through a handle")
)

// ExpiredRequestError is returned by the forwarder when a request arrives after its deadline
type ExpiredRequestError struct {
	Deadline uint64
}

func (e *ExpiredRequestError) Error() string {
	return fmt.Sprintf("forward request expired at %d", e.Deadline)
}

// ExpiredSignatureError is returned by permit when the signature deadline has passed
type ExpiredSignatureError struct {
	Deadline *big.Int
}

func (e *ExpiredSignatureError) Error() string {
	return fmt.Sprintf("permit signature expired at %s", e.Deadline)
}

// InvalidSignerError reports the recovered signer and the identity it was expected to match
type InvalidSignerError struct {
	Signer   common.Address
	Expected common.Address
}

func (e *InvalidSignerError) Error() string {
	return fmt.Sprintf("invalid signer %s, expected %s", e.Signer.Hex(), e.Expected.Hex())
}

// InvalidNonceError is returned for stale or already consumed nonces
type InvalidNonceError struct {
	Account common.Address
	Current uint64
}

func (e *InvalidNonceError) Error() string {
	return fmt.Sprintf("invalid nonce for %s, current nonce is %d", e.Account.Hex(), e.Current)
}

// InvalidSignatureError is returned for malformed or non-canonical signatures
type InvalidSignatureError struct {
	Reason string
}

func (e *InvalidSignatureError) Error() string {
	return "invalid signature: " + e.Reason
}

// UntrustedTargetError is returned when the target does not trust the forwarder
type UntrustedTargetError struct {
	Target    common.Address
	Forwarder common.Address
}

func (e *UntrustedTargetError) Error() string {
	return fmt.Sprintf("target %s does not trust forwarder %s", e.Target.Hex(), e.Forwarder.Hex())
}

// UnauthorizedAccountError is returned when the caller is not the account owner
type UnauthorizedAccountError struct {
	Caller common.Address
}

func (e *UnauthorizedAccountError) Error() string {
	return fmt.Sprintf("unauthorized account %s", e.Caller.Hex())
}

// UnauthorizedUpgradeError is returned when someone other than the handle owner upgrades
type UnauthorizedUpgradeError struct {
	Caller common.Address
}

func (e *UnauthorizedUpgradeError) Error() string {
	return fmt.Sprintf("unauthorized upgrade by %s", e.Caller.Hex())
}

// InsufficientFundsError is returned when a withdrawal exceeds the account balance
type InsufficientFundsError struct {
	Amount  *big.Int
	Balance *big.Int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: requested %s, balance %s", e.Amount, e.Balance)
}

// MismatchedValueError is returned when the relayer sends a different value than the request carries
type MismatchedValueError struct {
	Requested *big.Int
	Sent      *big.Int
}

func (e *MismatchedValueError) Error() string {
	return fmt.Sprintf("mismatched value: request carries %s, sent %s", e.Requested, e.Sent)
}

// MissingRoleError is returned when an account lacks the capability a method requires
type MissingRoleError struct {
	Account common.Address
	Role    common.Hash
}

func (e *MissingRoleError) Error() string {
	return fmt.Sprintf("account %s is missing role %s", e.Account.Hex(), e.Role.Hex())
}

// IncompatibleLayoutError is returned when a new implementation reorders or drops stored fields
type IncompatibleLayoutError struct {
	Field    string
	Position int
}

func (e *IncompatibleLayoutError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("incompatible storage layout: field %d removed", e.Position)
	}
	return fmt.Sprintf("incompatible storage layout: field %d is %q", e.Position, e.Field)
}

// InsufficientBalanceError is returned by the token ledger
type InsufficientBalanceError struct {
	Account common.Address
	Balance *big.Int
	Needed  *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: have %s, need %s", e.Account.Hex(), e.Balance, e.Needed)
}

// InsufficientAllowanceError is returned by transferFrom
type InsufficientAllowanceError struct {
	Spender   common.Address
	Allowance *big.Int
	Needed    *big.Int
}

func (e *InsufficientAllowanceError) Error() string {
	return fmt.Sprintf("insufficient allowance for %s: have %s, need %s", e.Spender.Hex(), e.Allowance, e.Needed)
}

// ErrorCode maps an error returned by any protocol contract to its stable code.
// Unknown errors map to ErrCodeInternal.
func ErrorCode(err error) string {
	var (
		expiredRequest   *ExpiredRequestError
		expiredSignature *ExpiredSignatureError
		invalidSigner    *InvalidSignerError
		invalidNonce     *InvalidNonceError
		invalidSignature *InvalidSignatureError
		untrusted        *UntrustedTargetError
		unauthorized     *UnauthorizedAccountError
		unauthUpgrade    *UnauthorizedUpgradeError
		insufficient     *InsufficientFundsError
		mismatched       *MismatchedValueError
		missingRole      *MissingRoleError
		layout           *IncompatibleLayoutError
		balance          *InsufficientBalanceError
		allowance        *InsufficientAllowanceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &expiredRequest):
		return ErrCodeExpiredRequest
	case errors.As(err, &expiredSignature):
		return ErrCodeExpiredSignature
	case errors.As(err, &invalidSigner):
		return ErrCodeInvalidSigner
	case errors.As(err, &invalidNonce):
		return ErrCodeInvalidNonce
	case errors.As(err, &invalidSignature):
		return ErrCodeInvalidSignature
	case errors.As(err, &untrusted):
		return ErrCodeUntrustedTarget
	case errors.As(err, &unauthorized):
		return ErrCodeUnauthorizedAccount
	case errors.As(err, &unauthUpgrade):
		return ErrCodeUnauthorizedUpgrade
	case errors.As(err, &insufficient):
		return ErrCodeInsufficientFunds
	case errors.As(err, &mismatched):
		return ErrCodeMismatchedValue
	case errors.As(err, &missingRole):
		return ErrCodeMissingRole
	case errors.As(err, &layout):
		return ErrCodeIncompatibleLayout
	case errors.As(err, &balance):
		return ErrCodeInsufficientBalance
	case errors.As(err, &allowance):
		return ErrCodeInsufficientAllowance
	case errors.Is(err, ErrAccountNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrUnsupportedCapability):
		return ErrCodeUnsupported
	default:
		return ErrCodeInternal
	}
}
