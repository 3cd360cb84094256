// Package chainrpc is a thin Soroban RPC client. Soroban RPC is JSON-RPC 2.0
// over HTTP, the same transport shape go-ethereum's own rpc.Client speaks, so
// that client is reused here rather than a second hand-rolled JSON-RPC layer
// — modeled on ethclient/ethclient_rollup.go's StoragesAt, which drives the
// same rpc.Client to batch multiple eth_getStorageAt keys in one round trip.
// getLedgerEntries batches similarly at the method level: it already accepts
// an array of ledger keys in a single call.
package chainrpc

import (
	"context"
	"fmt"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Client wraps a Soroban RPC endpoint.
type Client struct {
	rpc *gethrpc.Client
}

// Dial connects to the Soroban RPC endpoint at url.
func Dial(ctx context.Context, url string) (*Client, error) {
	c, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial soroban rpc: %w", err)
	}
	return &Client{rpc: c}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// LedgerEntryResult is one entry returned by getLedgerEntries.
type LedgerEntryResult struct {
	Key                  string `json:"key"`
	XDR                  string `json:"xdr"`
	LastModifiedLedgerSeq uint32 `json:"lastModifiedLedgerSeq"`
	LiveUntilLedgerSeq    *uint32 `json:"liveUntilLedgerSeq,omitempty"`
}

type getLedgerEntriesResult struct {
	Entries       []LedgerEntryResult `json:"entries"`
	LatestLedger  uint32              `json:"latestLedger"`
}

// GetLedgerEntries looks up one or more ledger keys (each base64-encoded
// XDR LedgerKey) and returns whichever of them currently exist. Soroban RPC
// omits missing keys from the response rather than erroring.
func (c *Client) GetLedgerEntries(ctx context.Context, base64Keys []string) ([]LedgerEntryResult, error) {
	var res getLedgerEntriesResult
	if err := c.rpc.CallContext(ctx, &res, "getLedgerEntries", map[string]any{"keys": base64Keys}); err != nil {
		return nil, fmt.Errorf("getLedgerEntries: %w", err)
	}
	return res.Entries, nil
}

// SimulateResult is simulateTransaction's relevant subset.
type SimulateResult struct {
	Error            string `json:"error,omitempty"`
	TransactionDataXDR string `json:"transactionData,omitempty"`
	MinResourceFee   string `json:"minResourceFee,omitempty"`
	Results          []struct {
		XDR string `json:"xdr"`
	} `json:"results,omitempty"`
	LatestLedger uint32 `json:"latestLedger"`
}

// SimulateTransaction asks the RPC endpoint to simulate a signed-or-unsigned
// transaction envelope (base64 XDR) without submitting it.
func (c *Client) SimulateTransaction(ctx context.Context, envelopeXDR string) (*SimulateResult, error) {
	var res SimulateResult
	if err := c.rpc.CallContext(ctx, &res, "simulateTransaction", map[string]any{"transaction": envelopeXDR}); err != nil {
		return nil, fmt.Errorf("simulateTransaction: %w", err)
	}
	return &res, nil
}

// SendTransaction is deliberately not implemented: the Pooler never submits
// directly against the chain RPC endpoint. Submission goes through the relay
// gateway (see package relay) because the Pooler does not control an account
// capable of paying its own transaction fees.
