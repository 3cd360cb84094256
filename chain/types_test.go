package chain

import (
	"strings"
	"testing"

	"github.com/holiman/uint256"
)

// Tests BlockRecord.Validate rejects an inverted min/max gap range
func TestBlockRecordValidateGapRange(t *testing.T) {
	rec := &BlockRecord{MinGap: 10, MaxGap: 5, MinStake: uint256.NewInt(0), MaxStake: uint256.NewInt(0)}
	if err := rec.Validate(); err == nil {
		t.Fatalf("expected error for min_gap > max_gap")
	}
}

// Tests BlockRecord.Validate rejects an inverted min/max stake range
func TestBlockRecordValidateStakeRange(t *testing.T) {
	rec := &BlockRecord{MinStake: uint256.NewInt(100), MaxStake: uint256.NewInt(1)}
	if err := rec.Validate(); err == nil {
		t.Fatalf("expected error for min_stake > max_stake")
	}
}

// Tests BlockRecord.Validate rejects max_zeros beyond the protocol ceiling
func TestBlockRecordValidateZerosCeiling(t *testing.T) {
	rec := &BlockRecord{MinZeros: 0, MaxZeros: 65, MinStake: uint256.NewInt(0), MaxStake: uint256.NewInt(0)}
	if err := rec.Validate(); err == nil {
		t.Fatalf("expected error for max_zeros exceeding ceiling")
	}
}

// Tests BlockRecord.Validate accepts a well-formed record
func TestBlockRecordValidateOK(t *testing.T) {
	rec := &BlockRecord{MinGap: 1, MaxGap: 5, MinZeros: 4, MaxZeros: 8, MinStake: uint256.NewInt(1), MaxStake: uint256.NewInt(2)}
	if err := rec.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Tests EntropyHex round-trips through DecodeEntropyHex
func TestEntropyHexRoundTrip(t *testing.T) {
	rec := &BlockRecord{}
	for i := range rec.Entropy {
		rec.Entropy[i] = byte(i)
	}
	hexStr := rec.EntropyHex()
	if len(hexStr) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(hexStr))
	}
	decoded, err := DecodeEntropyHex(hexStr)
	if err != nil {
		t.Fatalf("DecodeEntropyHex: %v", err)
	}
	if decoded != rec.Entropy {
		t.Fatalf("decoded entropy mismatch")
	}
}

// Tests DecodeEntropyHex rejects the wrong length
func TestDecodeEntropyHexWrongLength(t *testing.T) {
	if _, err := DecodeEntropyHex("abcd"); err == nil {
		t.Fatalf("expected error for short entropy hex")
	}
}

// Tests DecodeEntropyHex rejects non-hex characters
func TestDecodeEntropyHexInvalidChars(t *testing.T) {
	bad := strings.Repeat("zz", 32)
	if _, err := DecodeEntropyHex(bad); err == nil {
		t.Fatalf("expected error for non-hex entropy")
	}
}
