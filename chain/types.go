// Package chain reads block and farm-index state from the KALE contract's
// instance and temporary storage, and decodes it into typed BlockRecords.
package chain

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/kale-pool/pooler/params"
)

// BlockRecord is the decoded state of one on-chain block at Index >= 1.
type BlockRecord struct {
	Index     uint32
	Timestamp *time.Time // nil if the chain omitted it
	Entropy   [32]byte

	MinGap, MaxGap     uint64
	MinStake, MaxStake *uint256.Int
	MinZeros, MaxZeros uint64
}

// EntropyHex returns the lowercase 64-character hex encoding of Entropy.
func (b *BlockRecord) EntropyHex() string {
	return hexutil.Encode(b.Entropy[:])[2:]
}

// Validate enforces the BlockRecord invariants from the data model: min_*
// <= max_* element-wise and zero-bounds within range. Modeled on the
// teacher's own header field sanity checks in
// consensus/misc/eip7706.VerifyEIP7706Header, which validates a decoded
// header's vector fields before the caller trusts them.
func (b *BlockRecord) Validate() error {
	if b.MinGap > b.MaxGap {
		return fmt.Errorf("%w: min_gap %d > max_gap %d", ErrInvalidBlockRecord, b.MinGap, b.MaxGap)
	}
	if b.MinStake != nil && b.MaxStake != nil && b.MinStake.Cmp(b.MaxStake) > 0 {
		return fmt.Errorf("%w: min_stake %s > max_stake %s", ErrInvalidBlockRecord, b.MinStake, b.MaxStake)
	}
	if b.MinZeros > b.MaxZeros {
		return fmt.Errorf("%w: min_zeros %d > max_zeros %d", ErrInvalidBlockRecord, b.MinZeros, b.MaxZeros)
	}
	if b.MaxZeros > params.MaxZeros {
		return fmt.Errorf("%w: max_zeros %d exceeds %d", ErrInvalidBlockRecord, b.MaxZeros, params.MaxZeros)
	}
	return nil
}

// Snapshot is the result of one Chain Reader poll: the current FarmIndex and,
// if present, the decoded block entry at that index.
type Snapshot struct {
	Index uint32
	Block *BlockRecord // nil if no entry exists yet at Index
}

// decodeEntropyHex decodes a 64-character hex string into a 32-byte array,
// used when normalizing inbound planting notifications.
func decodeEntropyHex(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidBlockRecord, err)
	}
	if len(raw) != params.EntropyLength {
		return out, fmt.Errorf("%w: entropy length %d, want %d", ErrInvalidBlockRecord, len(raw), params.EntropyLength)
	}
	copy(out[:], raw)
	return out, nil
}

// DecodeEntropyHex is the exported form of decodeEntropyHex, used by callers
// outside this package (the Coordinator, when normalizing a
// PlantingNotification's block_data.entropy field).
func DecodeEntropyHex(s string) ([32]byte, error) {
	return decodeEntropyHex(s)
}
