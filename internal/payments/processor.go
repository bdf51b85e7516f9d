// Package payments charges the price captured at admission. The real money
// movement happens in an external processor; this package records the charge
// durably enough that a submit failure is distinguishable from a generation
// failure, so clients never resubmit into a double charge.
package payments

import (
	"context"
	"errors"
	"math"
)

// ErrDeclined indicates the processor refused the charge. Submissions
// surface it as a payment failure, distinct from admission or validation.
var ErrDeclined = errors.New("payment declined")

// Charge describes one creation charge.
type Charge struct {
	JobID  string
	Owner  string
	Tier   string
	Amount float64
}

// Cents converts the charge amount to integer cents for ledger storage.
func (c Charge) Cents() uint64 {
	if c.Amount <= 0 {
		return 0
	}
	return uint64(math.Round(c.Amount * 100))
}

// Processor applies charges. Implementations must be idempotent per JobID:
// charging the same job twice records at most one ledger movement.
type Processor interface {
	Charge(ctx context.Context, charge Charge) error
	Close() error
}
