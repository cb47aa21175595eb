package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every *Error carries exactly one kind so callers can branch
// with errors.Is without caring about the specific code.
var (
	ErrValidation    = errors.New("validation error")
	ErrSignature     = errors.New("signature error")
	ErrReplay        = errors.New("replay error")
	ErrAuthorization = errors.New("authorization error")
	ErrTransient     = errors.New("transient infrastructure error")
	ErrAlreadyMinted = errors.New("already minted")
	ErrNotFound      = errors.New("not found")
)

// Store-level sentinels. Stores return these; the ledger and issuer turn them
// into coded errors.
var (
	ErrNonceMismatch     = errors.New("nonce mismatch")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

const (
	CodeInvalidDocument     = "INVALID_DOCUMENT"
	CodeMissingField        = "MISSING_FIELD"
	CodeInvalidEnum         = "INVALID_ENUM"
	CodeInvalidTimestamp    = "INVALID_TIMESTAMP"
	CodeNotYetValid         = "NOT_YET_VALID"
	CodeExpired             = "EXPIRED"
	CodeFutureTimestamp     = "FUTURE_TIMESTAMP"
	CodeInvalidSignature    = "INVALID_SIGNATURE"
	CodeUnknownKey          = "UNKNOWN_KEY"
	CodeKeyInactive         = "KEY_INACTIVE"
	CodeKeyOwnerMismatch    = "KEY_OWNER_MISMATCH"
	CodeAlgorithmMismatch   = "ALGORITHM_MISMATCH"
	CodeUnsupportedAlg      = "UNSUPPORTED_ALGORITHM"
	CodeWarrantNotAnchored  = "WARRANT_NOT_ANCHORED"
	CodeWarrantMismatch     = "WARRANT_MISMATCH"
	CodeReceiptIDMismatch   = "RECEIPT_ID_MISMATCH"
	CodePolicyDenied        = "POLICY_DENIED"
	CodeDuplicateSubmission = "DUPLICATE_SUBMISSION"
	CodeWarrantIDReused     = "WARRANT_ID_REUSED"

	CodePaused             = "PAUSED"
	CodeNotSubmitter       = "NOT_SUBMITTER"
	CodeNotAdmin           = "NOT_ADMIN"
	CodeInvalidAssurance   = "INVALID_ASSURANCE"
	CodeEmptyAnchor        = "EMPTY_ANCHOR"
	CodeNodeBusy           = "NODE_BUSY"
	CodeUnknownTx          = "UNKNOWN_TX"
	CodeFeeTooLow          = "FEE_TOO_LOW"
	CodeDeadlineExpired    = "DEADLINE_EXPIRED"
	CodeInvalidNonce       = "INVALID_NONCE"
	CodeSignerMismatch     = "SIGNER_MISMATCH"
	CodeInvalidAddress     = "INVALID_ADDRESS"
	CodeNothingToWithdraw  = "NOTHING_TO_WITHDRAW"
	CodeRecordNotFound     = "RECORD_NOT_FOUND"
	CodeLedgerUnavailable  = "LEDGER_UNAVAILABLE"
	CodeConfirmationFailed = "CONFIRMATION_FAILED"

	CodeMintingDisabled    = "MINTING_DISABLED"
	CodeUnauthorizedMinter = "UNAUTHORIZED_MINTER"
	CodeInvalidRecipient   = "INVALID_RECIPIENT"
	CodeInvalidEvidence    = "INVALID_EVIDENCE"
	CodeAlreadyMinted      = "ALREADY_MINTED"
	CodeTransfersDisabled  = "TRANSFERS_DISABLED"
	CodeApprovalsDisabled  = "APPROVALS_DISABLED"
	CodeNotOwnerOrApproved = "NOT_OWNER_OR_APPROVED"
	CodeTokenNotFound      = "TOKEN_NOT_FOUND"

	CodeStatusNotFound = "STATUS_NOT_FOUND"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL"
)

// Error is a coded error of a single kind, optionally wrapping a cause.
type Error struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

func E(kind error, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind error, code string, err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
