// Package ledger implements the error ledger: a cycle-scoped list of
// human-readable error strings, reset at the start of every
// control-loop tick and copied verbatim into csp-config.errors at cycle
// end.
package ledger

import (
	"context"
	"log/slog"
)

// Ledger accumulates error strings for one control-loop cycle.
type Ledger struct {
	entries []string
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{}
}

// Reset clears the ledger; called by the control loop right after each
// cycle's csp-config write, so every tick starts with an empty ledger.
func (l *Ledger) Reset() {
	l.entries = nil
}

// Add appends msg to the ledger and logs it in the same call. fatal
// selects Error-level logging (unrecoverable path) over Warn-level
// (recoverable).
func (l *Ledger) Add(ctx context.Context, logger *slog.Logger, msg string, fatal bool) {
	l.entries = append(l.entries, msg)
	if fatal {
		logger.ErrorContext(ctx, msg)
	} else {
		logger.WarnContext(ctx, msg)
	}
}

// Entries returns the ledger contents to be copied verbatim into
// csp-config.errors.
func (l *Ledger) Entries() []string {
	if l.entries == nil {
		return []string{}
	}
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Empty reports whether no error was added this cycle.
func (l *Ledger) Empty() bool {
	return len(l.entries) == 0
}

// Degraded reports the "degraded" signal: a non-empty ledger combined
// with a failed billing_api_access_ok flag.
func Degraded(ledgerEmpty, billingAPIAccessOK bool) bool {
	return !ledgerEmpty && !billingAPIAccessOK
}

// Warning reports the "warning" signal: a non-empty ledger but the
// billing API access flag still true.
func Warning(ledgerEmpty, billingAPIAccessOK bool) bool {
	return !ledgerEmpty && billingAPIAccessOK
}
