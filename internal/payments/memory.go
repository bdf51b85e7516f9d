package payments

import (
	"context"
	"sync"
)

// MemoryLedger records charges in process memory. It is the default
// processor for local runs and tests.
type MemoryLedger struct {
	mu      sync.Mutex
	charges map[string]Charge
	// DeclineFn, when set, can veto a charge (tests).
	DeclineFn func(Charge) error
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{charges: map[string]Charge{}}
}

// Charge records the charge, once per job id.
func (l *MemoryLedger) Charge(_ context.Context, charge Charge) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.DeclineFn != nil {
		if err := l.DeclineFn(charge); err != nil {
			return err
		}
	}
	if _, ok := l.charges[charge.JobID]; ok {
		return nil
	}
	l.charges[charge.JobID] = charge
	return nil
}

// Charged returns the recorded charge for a job id.
func (l *MemoryLedger) Charged(jobID string) (Charge, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	charge, ok := l.charges[jobID]
	return charge, ok
}

// Total sums all recorded charges in cents.
func (l *MemoryLedger) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total uint64
	for _, charge := range l.charges {
		total += charge.Cents()
	}
	return total
}

// Close is a no-op.
func (l *MemoryLedger) Close() error { return nil }
