package ledger

import "errors"

// Every validation failure aborts the whole operation, batches included,
// with no partial state change. Messages follow the contract deployments
// this service replaces where those had user-visible revert strings.
var (
	ErrArityMismatch       = errors.New("recipients and amounts arrays should have the same length")
	ErrInvalidAmount       = errors.New("amounts must be positive")
	ErrInvalidSchedule     = errors.New("duration must be >= cliff")
	ErrFeeTooLow           = errors.New("fee too low")
	ErrInsufficientPayment = errors.New("insufficient payment to cover fee and total amount")
	ErrNoPendingClaim      = errors.New("no pending claim found")
	ErrNoTransferFound     = errors.New("no transfer found")
	ErrNotRecipient        = errors.New("claimant is not the recipient of the transfer")
	ErrNotSender           = errors.New("requestor is not the sender of the transfer")
	ErrNotRevocable        = errors.New("transfer is not revocable")
	ErrNothingReleasable   = errors.New("no releasable amount at the moment")
	ErrSystemPaused        = errors.New("sending is paused")
	ErrUnauthorized        = errors.New("caller is not authorized")
)
