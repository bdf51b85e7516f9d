// Package tb implements the payment ledger on TigerBeetle. Each charge is a
// double-entry transfer from the owner's account to the operator revenue
// account; deterministic transfer ids make retried charges idempotent.
package tb

import (
	"context"
	"fmt"

	tbclient "github.com/tigerbeetle/tigerbeetle-go"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

// clientPool manages a fixed set of TigerBeetle client sessions.
type clientPool struct {
	clients   []tbclient.Client
	available chan tbclient.Client
}

func newClientPool(clusterID uint32, addresses []string, sessions int) (*clientPool, error) {
	if sessions <= 0 {
		sessions = 1
	}
	clients := make([]tbclient.Client, 0, sessions)
	available := make(chan tbclient.Client, sessions)
	cluster := tbtypes.ToUint128(uint64(clusterID))
	for i := 0; i < sessions; i++ {
		client, err := tbclient.NewClient(cluster, addresses)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("create ledger client: %w", err)
		}
		clients = append(clients, client)
		available <- client
	}
	return &clientPool{clients: clients, available: available}, nil
}

func (p *clientPool) acquire(ctx context.Context) (tbclient.Client, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case client := <-p.available:
		return client, nil
	}
}

func (p *clientPool) release(client tbclient.Client) {
	p.available <- client
}

func (p *clientPool) close() {
	for _, client := range p.clients {
		client.Close()
	}
}

// callWithContext runs a blocking TigerBeetle call with cancellation.
func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		value, err := fn()
		ch <- result{value: value, err: err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		return res.value, res.err
	}
}

func createAccounts(ctx context.Context, client tbclient.Client, accounts []tbtypes.Account) ([]tbtypes.AccountEventResult, error) {
	return callWithContext(ctx, func() ([]tbtypes.AccountEventResult, error) {
		return client.CreateAccounts(accounts)
	})
}

func createTransfers(ctx context.Context, client tbclient.Client, transfers []tbtypes.Transfer) ([]tbtypes.TransferEventResult, error) {
	return callWithContext(ctx, func() ([]tbtypes.TransferEventResult, error) {
		return client.CreateTransfers(transfers)
	})
}
