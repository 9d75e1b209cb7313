package models

// AbortReason names why a mutation or request was rejected.
type AbortReason string

const (
	ReasonInvalidName        AbortReason = "InvalidName"
	ReasonInvalidIdentity    AbortReason = "InvalidIdentity"
	ReasonDuplicateIdentity  AbortReason = "DuplicateIdentity"
	ReasonDuplicateName      AbortReason = "DuplicateName"
	ReasonNotCheckedIn       AbortReason = "NotCheckedIn"
	ReasonStorageUnavailable AbortReason = "StorageUnavailable"
)

// Message is the user-facing text for a reason.
func (r AbortReason) Message() string {
	switch r {
	case ReasonInvalidName:
		return "nickname must be 1-10 characters"
	case ReasonInvalidIdentity:
		return "device identity is required"
	case ReasonDuplicateIdentity:
		return "you have already checked in today"
	case ReasonDuplicateName:
		return "nickname is already taken today, please choose another"
	case ReasonNotCheckedIn:
		return "no check-in record found for today"
	case ReasonStorageUnavailable:
		return "temporarily unavailable, please try again"
	default:
		return "request could not be completed"
	}
}

// Outcome is the result of a ledger transform: either a ledger to commit or
// a reason to abort without persisting anything.
type Outcome struct {
	ledger  *DailyLedger
	reason  AbortReason
	aborted bool
}

// Commit persists ledger.
func Commit(ledger *DailyLedger) Outcome {
	return Outcome{ledger: ledger}
}

// Abort rejects the mutation with reason.
func Abort(reason AbortReason) Outcome {
	return Outcome{reason: reason, aborted: true}
}

// Aborted reports whether the transform declined to change the ledger.
func (o Outcome) Aborted() bool {
	return o.aborted
}

// Ledger is the committed ledger, nil when aborted. Commit(nil) also yields
// nil here and is rejected by every store.
func (o Outcome) Ledger() *DailyLedger {
	return o.ledger
}

// Reason is the abort reason, empty when committed.
func (o Outcome) Reason() AbortReason {
	return o.reason
}

// Transform computes the next ledger from a private copy of the current one.
type Transform func(current *DailyLedger) Outcome
