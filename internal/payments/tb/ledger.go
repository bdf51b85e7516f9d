package tb

import (
	"context"
	"crypto/sha256"
	"fmt"

	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"github.com/shayanmanesh/create/internal/payments"
)

const (
	ledgerCode   = 1
	accountCode  = 10
	transferCode = 20
)

// Config describes the ledger cluster connection.
type Config struct {
	ClusterID uint32
	Addresses []string
	Sessions  int
}

// Ledger records charges as transfers on a TigerBeetle cluster. Transfer ids
// are derived from the job id, so a replayed charge lands on the same
// transfer and the cluster rejects the duplicate rather than double-booking.
type Ledger struct {
	pool     *clientPool
	operator tbtypes.Uint128
}

// NewLedger connects to the cluster and ensures the operator revenue
// account exists.
func NewLedger(ctx context.Context, cfg Config) (*Ledger, error) {
	pool, err := newClientPool(cfg.ClusterID, cfg.Addresses, cfg.Sessions)
	if err != nil {
		return nil, err
	}
	ledger := &Ledger{pool: pool, operator: id128("acct:operator")}
	if err := ledger.ensureAccounts(ctx, ledger.operator); err != nil {
		pool.close()
		return nil, fmt.Errorf("ensure operator account: %w", err)
	}
	return ledger, nil
}

// Charge books the charge as a transfer from the owner account to the
// operator account. Charging the same job twice is a no-op.
func (l *Ledger) Charge(ctx context.Context, charge payments.Charge) error {
	cents := charge.Cents()
	if cents == 0 {
		return nil
	}
	client, err := l.pool.acquire(ctx)
	if err != nil {
		return err
	}
	defer l.pool.release(client)

	owner := id128("acct:owner:" + charge.Owner)
	accounts := []tbtypes.Account{
		{ID: owner, Ledger: ledgerCode, Code: accountCode},
	}
	results, err := createAccounts(ctx, client, accounts)
	if err != nil {
		return fmt.Errorf("create owner account: %w", err)
	}
	for _, res := range results {
		if res.Result != tbtypes.AccountExists {
			return fmt.Errorf("create owner account: %s", res.Result)
		}
	}

	transfer := tbtypes.Transfer{
		ID:              id128("xfer:charge:" + charge.JobID),
		DebitAccountID:  owner,
		CreditAccountID: l.operator,
		Amount:          tbtypes.ToUint128(cents),
		Ledger:          ledgerCode,
		Code:            transferCode,
	}
	transferResults, err := createTransfers(ctx, client, []tbtypes.Transfer{transfer})
	if err != nil {
		return fmt.Errorf("create transfer: %w", err)
	}
	// Only failed events come back; a replayed charge surfaces as
	// TransferExists and counts as success.
	for _, res := range transferResults {
		if res.Result != tbtypes.TransferExists {
			return fmt.Errorf("%w: %s", payments.ErrDeclined, res.Result)
		}
	}
	return nil
}

// Close releases all client sessions.
func (l *Ledger) Close() error {
	l.pool.close()
	return nil
}

func (l *Ledger) ensureAccounts(ctx context.Context, ids ...tbtypes.Uint128) error {
	client, err := l.pool.acquire(ctx)
	if err != nil {
		return err
	}
	defer l.pool.release(client)

	accounts := make([]tbtypes.Account, 0, len(ids))
	for _, id := range ids {
		accounts = append(accounts, tbtypes.Account{ID: id, Ledger: ledgerCode, Code: accountCode})
	}
	results, err := createAccounts(ctx, client, accounts)
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Result != tbtypes.AccountExists {
			return fmt.Errorf("account %d: %s", res.Index, res.Result)
		}
	}
	return nil
}

// id128 derives a stable 128-bit id from a label. TigerBeetle reserves the
// all-zero and all-one ids, so those hash outputs are nudged.
func id128(label string) tbtypes.Uint128 {
	sum := sha256.Sum256([]byte(label))
	var raw [16]byte
	copy(raw[:], sum[:16])

	allZero, allMax := true, true
	for _, b := range raw {
		if b != 0 {
			allZero = false
		}
		if b != 0xFF {
			allMax = false
		}
	}
	if allZero {
		raw[0] = 1
	}
	if allMax {
		raw[0] = 0xFE
	}
	return tbtypes.BytesToUint128(raw)
}
