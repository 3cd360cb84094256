package chain

import "errors"

var (
	// ErrRPC wraps transport-level failures talking to the chain RPC
	// endpoint (spec's ChainRPCError).
	ErrRPC = errors.New("chain rpc error")

	// ErrDecode wraps failures decoding a contract-storage entry into a
	// typed value (spec's ChainDecodeError).
	ErrDecode = errors.New("chain decode error")

	// ErrInvalidBlockRecord is returned by BlockRecord.Validate.
	ErrInvalidBlockRecord = errors.New("invalid block record")
)
