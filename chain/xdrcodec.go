package chain

import (
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// contractAddress decodes a strkey contract ID ("C...") into an ScAddress.
func contractAddress(contractID string) (xdr.ScAddress, error) {
	raw, err := strkey.Decode(strkey.VersionByteContract, contractID)
	if err != nil {
		return xdr.ScAddress{}, fmt.Errorf("decode contract id: %w", err)
	}
	var hash xdr.Hash
	copy(hash[:], raw)
	return xdr.ScAddress{
		Type:       xdr.ScAddressTypeScAddressTypeContract,
		ContractId: &hash,
	}, nil
}

// instanceStorageKey builds the base64 XDR LedgerKey for the contract's own
// instance storage entry (where FarmIndex lives).
func instanceStorageKey(contractID string) (string, error) {
	addr, err := contractAddress(contractID)
	if err != nil {
		return "", err
	}
	key := xdr.LedgerKey{
		Type: xdr.LedgerEntryTypeContractData,
		ContractData: &xdr.LedgerKeyContractData{
			Contract:   addr,
			Key:        xdr.ScVal{Type: xdr.ScValTypeScvLedgerKeyContractInstance},
			Durability: xdr.ContractDataDurabilityPersistent,
		},
	}
	return marshalKey(key)
}

// blockStorageKey builds the base64 XDR LedgerKey for the Block[index] entry
// in contract-temporary storage: the vector [Symbol("Block"), U32(index)].
func blockStorageKey(contractID string, index uint32) (string, error) {
	addr, err := contractAddress(contractID)
	if err != nil {
		return "", err
	}
	sym := xdr.ScSymbol("Block")
	idx := xdr.Uint32(index)
	vec := xdr.ScVec{
		{Type: xdr.ScValTypeScvSymbol, Sym: &sym},
		{Type: xdr.ScValTypeScvU32, U32: &idx},
	}
	key := xdr.LedgerKey{
		Type: xdr.LedgerEntryTypeContractData,
		ContractData: &xdr.LedgerKeyContractData{
			Contract:   addr,
			Key:        xdr.ScVal{Type: xdr.ScValTypeScvVec, Vec: &vec},
			Durability: xdr.ContractDataDurabilityTemporary,
		},
	}
	return marshalKey(key)
}

func marshalKey(key xdr.LedgerKey) (string, error) {
	raw, err := key.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal ledger key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// decodeBlockScVal decodes the ScVal stored at Block[index] into a
// BlockRecord. The contract is expected to store the record as an ScMap
// keyed by field-name symbols.
func decodeBlockScVal(index uint32, val xdr.ScVal) (*BlockRecord, error) {
	m, ok := val.GetMap()
	if !ok || m == nil {
		return nil, fmt.Errorf("%w: block value is not a map", ErrDecode)
	}
	fields := make(map[string]xdr.ScVal, len(*m))
	for _, entry := range *m {
		sym, ok := entry.Key.GetSym()
		if !ok {
			continue
		}
		fields[string(sym)] = entry.Val
	}

	rec := &BlockRecord{Index: index}

	if v, ok := fields["timestamp"]; ok {
		if ts, ok := scValAsInt64(v); ok {
			t := timestampFromUnix(ts, true)
			rec.Timestamp = t
		}
	}

	if v, ok := fields["entropy"]; ok {
		if b, ok := v.GetBytes(); ok && len(b) == 32 {
			copy(rec.Entropy[:], b)
		}
	}

	rec.MinGap, _ = scValAsUint64(fields["min_gap"])
	rec.MaxGap, _ = scValAsUint64(fields["max_gap"])
	rec.MinZeros, _ = scValAsUint64(fields["min_zeros"])
	rec.MaxZeros, _ = scValAsUint64(fields["max_zeros"])

	if v, ok := fields["min_stake"]; ok {
		rec.MinStake = scValAsUint256(v)
	} else {
		rec.MinStake = uint256.NewInt(0)
	}
	if v, ok := fields["max_stake"]; ok {
		rec.MaxStake = scValAsUint256(v)
	} else {
		rec.MaxStake = uint256.NewInt(0)
	}

	return rec, nil
}

// scValAsUint64 reads a u32/u64/i64 ScVal as a non-negative uint64.
func scValAsUint64(v xdr.ScVal) (uint64, bool) {
	switch v.Type {
	case xdr.ScValTypeScvU32:
		if v.U32 != nil {
			return uint64(*v.U32), true
		}
	case xdr.ScValTypeScvU64:
		if v.U64 != nil {
			return uint64(*v.U64), true
		}
	case xdr.ScValTypeScvI64:
		if v.I64 != nil && *v.I64 >= 0 {
			return uint64(*v.I64), true
		}
	}
	return 0, false
}

func scValAsInt64(v xdr.ScVal) (int64, bool) {
	switch v.Type {
	case xdr.ScValTypeScvU64:
		if v.U64 != nil {
			return int64(*v.U64), true
		}
	case xdr.ScValTypeScvI64:
		if v.I64 != nil {
			return int64(*v.I64), true
		}
	case xdr.ScValTypeScvU32:
		if v.U32 != nil {
			return int64(*v.U32), true
		}
	}
	return 0, false
}

// scValAsUint256 reads a u128/i128 ScVal as a uint256.Int, treating it as
// non-negative stroop-precision stake amount. Malformed or absent values
// decode to zero.
func scValAsUint256(v xdr.ScVal) *uint256.Int {
	if v.Type == xdr.ScValTypeScvU128 && v.U128 != nil {
		hi := new(big.Int).SetUint64(uint64(v.U128.Hi))
		hi.Lsh(hi, 64)
		lo := new(big.Int).SetUint64(uint64(v.U128.Lo))
		full := new(big.Int).Add(hi, lo)
		out, overflow := uint256.FromBig(full)
		if overflow {
			return uint256.NewInt(0)
		}
		return out
	}
	if v.Type == xdr.ScValTypeScvI128 && v.I128 != nil && int64(v.I128.Hi) >= 0 {
		hi := new(big.Int).SetUint64(uint64(v.I128.Hi))
		hi.Lsh(hi, 64)
		lo := new(big.Int).SetUint64(uint64(v.I128.Lo))
		out, _ := uint256.FromBig(new(big.Int).Add(hi, lo))
		return out
	}
	if n, ok := scValAsUint64(v); ok {
		return uint256.NewInt(n)
	}
	return uint256.NewInt(0)
}
