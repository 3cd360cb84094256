package chain

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/kale-pool/pooler/chainrpc"
	"github.com/stellar/go/xdr"
)

// Reader performs the two primitive contract-storage reads the Pooler needs:
// the FarmIndex scalar and the BlockRecord at a given index. It does not
// retry internally; transient errors surface to the caller (the Block
// Monitor), which owns the retry/error-ceiling policy.
type Reader struct {
	rpc        *chainrpc.Client
	contractID string
}

// NewReader builds a Reader against an already-dialed Soroban RPC client.
// Modeled on node/node_rollup.go's RegisterEthClient, which dials and logs
// the endpoint once at construction time.
func NewReader(rpc *chainrpc.Client, contractID string) *Reader {
	log.Info("Initialized chain reader", "contract", contractID)
	return &Reader{rpc: rpc, contractID: contractID}
}

// Read performs both primitive reads and assembles a Snapshot.
func (r *Reader) Read(ctx context.Context) (*Snapshot, error) {
	index, err := r.readFarmIndex(ctx)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Index: index}
	if index == 0 {
		return snap, nil
	}
	block, err := r.readBlock(ctx, index)
	if err != nil {
		return nil, err
	}
	snap.Block = block
	return snap, nil
}

// readFarmIndex reads the FarmIndex symbol from contract-instance storage.
// An absent entry is not an error: it means index = 0.
func (r *Reader) readFarmIndex(ctx context.Context) (uint32, error) {
	key, err := instanceStorageKey(r.contractID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRPC, err)
	}
	entries, err := r.rpc.GetLedgerEntries(ctx, []string{key})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRPC, err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	var entry xdr.LedgerEntryData
	if err := entry.UnmarshalBinary(mustB64Decode(entries[0].XDR)); err != nil {
		return 0, fmt.Errorf("%w: decode contract instance: %v", ErrDecode, err)
	}
	cd, ok := entry.GetContractData()
	if !ok {
		return 0, nil
	}
	instance, ok := cd.Val.GetInstance()
	if !ok || instance.Storage == nil {
		return 0, nil
	}
	for _, kv := range *instance.Storage {
		sym, ok := kv.Key.GetSym()
		if ok && string(sym) == "FarmIndex" {
			n, ok := kv.Val.GetU32()
			if !ok {
				return 0, fmt.Errorf("%w: FarmIndex not a u32", ErrDecode)
			}
			return uint32(n), nil
		}
	}
	return 0, nil
}

// readBlock reads the Block[i] entry from contract-temporary storage. A
// missing entry is not an error.
func (r *Reader) readBlock(ctx context.Context, index uint32) (*BlockRecord, error) {
	key, err := blockStorageKey(r.contractID, index)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPC, err)
	}
	entries, err := r.rpc.GetLedgerEntries(ctx, []string{key})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPC, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	var entry xdr.LedgerEntryData
	if err := entry.UnmarshalBinary(mustB64Decode(entries[0].XDR)); err != nil {
		return nil, fmt.Errorf("%w: decode block entry: %v", ErrDecode, err)
	}
	cd, ok := entry.GetContractData()
	if !ok {
		return nil, fmt.Errorf("%w: block entry not contract data", ErrDecode)
	}
	rec, err := decodeBlockScVal(index, cd.Val)
	if err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return rec, nil
}

func mustB64Decode(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// timestampFromUnix converts a possibly-zero unix-seconds value into a
// *time.Time, or nil if absent.
func timestampFromUnix(sec int64, present bool) *time.Time {
	if !present {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
