package stream

// CheckResult is what a strategy reports for a single username.
type CheckResult struct {
	IsLive bool
	Title  string
}

// Outcome is produced once per account per cycle.
//
// Account is the value read at the start of the cycle, before any update
// is applied; JustWentLive is derived from it.
type Outcome struct {
	Account      Account
	IsLive       bool
	Title        string
	JustWentLive bool

	// Kind and Err describe a contained failure (Kind == KindNone on success).
	Kind ErrKind
	Err  error
}

// NewOutcome derives the transition signal from the pre-update account.
func NewOutcome(prev Account, res CheckResult) Outcome {
	return Outcome{
		Account:      prev,
		IsLive:       res.IsLive,
		Title:        res.Title,
		JustWentLive: prev.LastStatus != StatusLive && res.IsLive,
	}
}

// FailedOutcome degrades an account to offline for this cycle.
func FailedOutcome(prev Account, err error) Outcome {
	return Outcome{
		Account: prev,
		Kind:    KindOf(err),
		Err:     err,
	}
}

func (o Outcome) Failed() bool { return o.Err != nil }
