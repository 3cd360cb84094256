// Package relay builds, simulates and submits the work(farmer, hash, nonce)
// contract call through the launchtube relay gateway, with the fixed
// retry/backoff policy the protocol requires. The attempt-loop shape —
// a small fixed number of tries separated by a constant sleep, classifying
// each failure as retryable or terminal by matching its message against a
// known vocabulary — is grounded on the teacher's commitTransactions
// resubmission loop in miner/worker.go, generalized from "resubmit a local
// EVM tx" to "resubmit an HTTP POST against an external relayer".
package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/kale-pool/pooler/chainrpc"
	"github.com/kale-pool/pooler/params"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
)

var retryable = mapset.NewSet(retryableTokens...)

var relayRetries = metrics.NewRegisteredCounter("pooler/relay/retries", nil)

// isRetryable reports whether err's message contains any known retryable
// substring, case-insensitively.
func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	found := false
	retryable.Each(func(tok string) bool {
		if strings.Contains(msg, tok) {
			found = true
			return true
		}
		return false
	})
	return found
}

// Submitter builds and submits work() contract calls via the relay gateway.
type Submitter struct {
	httpClient *http.Client
	simulator  Simulator

	relayURL        string
	relayBearer     string
	contractID      string
	networkPassphrase string
	clientName      string
	clientVersion   string
}

// Simulator is the subset of chainrpc.Client used to simulate a built
// transaction before submission. Kept as an interface so tests can stub it
// without a live RPC endpoint.
type Simulator interface {
	SimulateTransaction(ctx context.Context, envelopeXDR string) (*chainrpc.SimulateResult, error)
}

// Config carries the immutable identity Submitter needs.
type Config struct {
	RelayURL          string
	RelayBearer       string
	ContractID        string
	NetworkPassphrase string
	ClientName        string
	ClientVersion     string
}

// NewSubmitter builds a Submitter. httpClient may be nil to use a sensible
// default.
func NewSubmitter(cfg Config, sim Simulator, httpClient *http.Client) *Submitter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Submitter{
		httpClient:        httpClient,
		simulator:         sim,
		relayURL:          cfg.RelayURL,
		relayBearer:       cfg.RelayBearer,
		contractID:        cfg.ContractID,
		networkPassphrase: cfg.NetworkPassphrase,
		clientName:        cfg.ClientName,
		clientVersion:     cfg.ClientVersion,
	}
}

// Result is the terminal outcome of a submission attempt.
type Result struct {
	TransactionHash string
	Attempts        int
}

// relayResponse is the subset of the launchtube response body this package
// cares about.
type relayResponse struct {
	Hash  string `json:"hash"`
	TxHash string `json:"transactionHash"`
}

// Submit builds the work(farmer, hash, nonce) invocation against the
// configured custodial signer, simulates it, and POSTs the signed envelope
// to the relay gateway, retrying transient failures up to
// params.RelayRetryAttempts times with a params.RelayRetryBackoff sleep
// between attempts.
func (s *Submitter) Submit(ctx context.Context, signerSecret, farmerAccount string, hash []byte, nonce uint64) (*Result, error) {
	envelope, err := s.buildAndSimulate(ctx, signerSecret, farmerAccount, hash, nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSimulation, err)
	}

	var lastErr error
	for attempt := 1; attempt <= params.RelayRetryAttempts; attempt++ {
		res, err := s.post(ctx, envelope)
		if err == nil {
			return &Result{TransactionHash: res, Attempts: attempt}, nil
		}
		lastErr = err
		if !isRetryable(err) {
			log.Warn("Relay submission terminal failure", "attempt", attempt, "err", err)
			return nil, fmt.Errorf("%w: %v", ErrTerminal, err)
		}
		log.Warn("Relay submission retryable failure", "attempt", attempt, "err", err)
		if attempt < params.RelayRetryAttempts {
			relayRetries.Inc(1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(params.RelayRetryBackoff):
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

// buildAndSimulate constructs the work() invoke-host-function operation,
// signs it with the farmer's custodial key, and runs it through simulation.
// A simulation-reported domain error is terminal and non-retryable.
func (s *Submitter) buildAndSimulate(ctx context.Context, signerSecret, farmerAccount string, hash []byte, nonce uint64) (string, error) {
	kp, err := keypair.ParseFull(signerSecret)
	if err != nil {
		return "", fmt.Errorf("parse signer key: %w", err)
	}

	hostFn, err := workInvocation(s.contractID, farmerAccount, hash, nonce)
	if err != nil {
		return "", fmt.Errorf("build work invocation: %w", err)
	}
	op := &txnbuild.InvokeHostFunction{
		HostFunction:  *hostFn,
		SourceAccount: farmerAccount,
	}

	account := txnbuild.NewSimpleAccount(farmerAccount, 0)
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(300)},
	})
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}

	signed, err := tx.Sign(s.networkPassphrase, kp)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	envelopeXDR, err := signed.Base64()
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}

	simRes, err := s.simulator.SimulateTransaction(ctx, envelopeXDR)
	if err != nil {
		return "", fmt.Errorf("simulate: %w", err)
	}
	if simRes.Error != "" {
		return "", fmt.Errorf("simulation rejected: %s", simRes.Error)
	}
	return envelopeXDR, nil
}

// post submits the signed envelope to the relay gateway as a multipart form
// with field "xdr", returning the transaction hash on success.
func (s *Submitter) post(ctx context.Context, envelopeXDR string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	field, err := w.CreateFormField("xdr")
	if err != nil {
		return "", err
	}
	if _, err := field.Write([]byte(envelopeXDR)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.relayURL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.relayBearer)
	req.Header.Set("X-Client-Name", s.clientName)
	req.Header.Set("X-Client-Version", s.clientVersion)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("relay returned %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed relayResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode relay response: %w", err)
	}
	if parsed.Hash != "" {
		return parsed.Hash, nil
	}
	return parsed.TxHash, nil
}

// workInvocation builds the work(farmer, hash, nonce) InvokeHostFunction
// payload against the configured contract, in the same ScVal-vector style
// used to decode block storage in package chain.
func workInvocation(contractID, farmerAccount string, hash []byte, nonce uint64) (*xdr.HostFunction, error) {
	contractAddr, err := contractAddressFromID(contractID)
	if err != nil {
		return nil, err
	}
	farmerAddr, err := contractAddressFromAccount(farmerAccount)
	if err != nil {
		return nil, err
	}

	fnName := xdr.ScSymbol("work")
	nonceVal := xdr.Uint64(nonce)
	args := xdr.ScVec{
		{Type: xdr.ScValTypeScvAddress, Address: &farmerAddr},
		{Type: xdr.ScValTypeScvBytes, Bytes: (*xdr.ScBytes)(&hash)},
		{Type: xdr.ScValTypeScvU64, U64: &nonceVal},
	}

	hf := xdr.HostFunction{
		Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
		InvokeContract: &xdr.InvokeContractArgs{
			ContractAddress: contractAddr,
			FunctionName:    fnName,
			Args:            args,
		},
	}
	return &hf, nil
}

// contractAddressFromID decodes a "C..." strkey into an ScAddress.
func contractAddressFromID(contractID string) (xdr.ScAddress, error) {
	raw, err := strkey.Decode(strkey.VersionByteContract, contractID)
	if err != nil {
		return xdr.ScAddress{}, fmt.Errorf("decode contract id: %w", err)
	}
	var h xdr.Hash
	copy(h[:], raw)
	return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &h}, nil
}

// contractAddressFromAccount decodes a "G..." strkey account into an
// ScAddress of type account.
func contractAddressFromAccount(account string) (xdr.ScAddress, error) {
	raw, err := strkey.Decode(strkey.VersionByteAccountID, account)
	if err != nil {
		return xdr.ScAddress{}, fmt.Errorf("decode account id: %w", err)
	}
	var key xdr.Uint256
	copy(key[:], raw)
	pk := xdr.PublicKey{Type: xdr.PublicKeyTypePublicKeyTypeEd25519, Ed25519: &key}
	accountID := xdr.AccountId(pk)
	return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeAccount, AccountId: &accountID}, nil
}

// encodeB64 is a small helper kept for callers that need to log the raw
// hash alongside an envelope for diagnostics.
func encodeB64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
