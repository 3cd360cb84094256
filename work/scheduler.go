package work

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/google/uuid"
	"github.com/kale-pool/pooler/miner"
	"github.com/kale-pool/pooler/params"
	"github.com/kale-pool/pooler/relay"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
)

var workElapsed = metrics.NewRegisteredTimer("pooler/work/elapsed", nil)

// MinerRunner is the subset of miner.Runner the scheduler needs.
type MinerRunner interface {
	Run(ctx context.Context, farmerHex32 string, blockIndex uint32, entropyHex64 string, nonceCount uint64) (*miner.Output, error)
}

// Submitter is the subset of relay.Submitter the scheduler needs.
type Submitter interface {
	Submit(ctx context.Context, signerSecret, farmerAccount string, hash []byte, nonce uint64) (*relay.Result, error)
}

// Batch is the per-block aggregate the Scheduler returns; the Coordinator
// folds it into a WorkCompletionReport.
type Batch struct {
	BlockIndex uint32
	Results    []Result
}

// Scheduler runs one block's worth of per-farmer mining+submission, starting
// at a computed wall-clock target and proceeding strictly sequentially.
type Scheduler struct {
	runner    MinerRunner
	submitter Submitter
}

// New builds a Scheduler.
func New(runner MinerRunner, submitter Submitter) *Scheduler {
	return &Scheduler{runner: runner, submitter: submitter}
}

// Run computes the work-start target from blockTimestampSec, sleeps until
// it (or returns immediately if already past), then processes jobs in
// order, one at a time. Cancellation of ctx aborts the sleep and any
// in-flight farmer at its next checkpoint.
func (s *Scheduler) Run(ctx context.Context, blockTimestampSec int64, blockIndex uint32, entropyHex string, jobs []Job) (*Batch, error) {
	if err := s.sleepUntilTarget(ctx, blockTimestampSec); err != nil {
		return nil, err
	}

	batch := &Batch{BlockIndex: blockIndex, Results: make([]Result, 0, len(jobs))}
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return batch, ctx.Err()
		default:
		}
		result := s.runJob(ctx, blockIndex, entropyHex, job)
		batch.Results = append(batch.Results, result)
	}
	return batch, nil
}

// sleepUntilTarget blocks until blockTimestampSec*1000 + WorkDelayMs, or
// returns immediately if that instant has already passed.
func (s *Scheduler) sleepUntilTarget(ctx context.Context, blockTimestampSec int64) error {
	target := time.UnixMilli(blockTimestampSec*1000 + params.WorkDelay.Milliseconds())
	wait := time.Until(target)
	if wait <= 0 {
		return nil
	}
	log.Info("Work scheduler sleeping until target", "target", target, "wait", wait)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// runJob drives one farmer's mining+submission to a terminal Result,
// including the recovery loop on miner timeout/parse failure.
func (s *Scheduler) runJob(ctx context.Context, blockIndex uint32, entropyHex string, job Job) Result {
	start := time.Now()
	correlationID := uuid.NewString()
	farmerHex32, err := custodialPublicKeyHex(job.Farmer.CustodialSecretKey)
	if err != nil {
		log.Error("Could not derive farmer public key", "farmer", job.Farmer.FarmerID, "correlationId", correlationID, "err", err)
		return Result{
			FarmerID:             job.Farmer.FarmerID,
			CustodialWallet:      job.Farmer.CustodialWallet,
			Status:               StatusFailed,
			WorkTimeMs:           time.Since(start).Milliseconds(),
			Attempts:             1,
			Error:                err.Error(),
			CompensationRequired: true,
		}
	}

	nonceCount := job.NonceCount
	if nonceCount == 0 {
		nonceCount = params.DefaultNonceCount
	}

	attempts := 0
	var lastResult Result

	for attempt := 0; attempt <= params.MaxRecoveryAttempts; attempt++ {
		attempts++
		currentNonceCount := nonceCount + uint64(attempt)*params.NonceCountStep

		out, err := s.runner.Run(ctx, farmerHex32, blockIndex, entropyHex, currentNonceCount)
		if err != nil || out == nil {
			lastResult = Result{
				FarmerID:             job.Farmer.FarmerID,
				CustodialWallet:      job.Farmer.CustodialWallet,
				Status:               StatusFailed,
				CompensationRequired: true,
			}
			if attempt < params.MaxRecoveryAttempts {
				log.Warn("Miner produced no output; retrying", "farmer", job.Farmer.FarmerID, "correlationId", correlationID, "attempt", attempt+1)
				continue
			}
			break
		}

		hashBytes, decErr := hexutil.Decode("0x" + out.Hash)
		if decErr != nil {
			lastResult = Result{
				FarmerID:             job.Farmer.FarmerID,
				CustodialWallet:      job.Farmer.CustodialWallet,
				Status:               StatusFailed,
				CompensationRequired: true,
				Error:                "malformed hash from miner",
			}
			break
		}

		subRes, subErr := s.submitter.Submit(ctx, job.Farmer.CustodialSecretKey, job.Farmer.CustodialWallet, hashBytes, out.Nonce)
		nonce := out.Nonce
		zeros := out.Zeros
		if subErr != nil {
			log.Warn("Submission failed", "farmer", job.Farmer.FarmerID, "correlationId", correlationID, "err", subErr)
			lastResult = Result{
				FarmerID:             job.Farmer.FarmerID,
				CustodialWallet:      job.Farmer.CustodialWallet,
				Status:               StatusFailed,
				Nonce:                &nonce,
				Hash:                 out.Hash,
				Zeros:                &zeros,
				CompensationRequired: true,
				Error:                subErr.Error(),
			}
			break
		}

		status := StatusSuccess
		if attempt > 0 {
			status = StatusRecovered
		}
		lastResult = Result{
			FarmerID:             job.Farmer.FarmerID,
			CustodialWallet:      job.Farmer.CustodialWallet,
			Status:               status,
			Nonce:                &nonce,
			Hash:                 out.Hash,
			Zeros:                &zeros,
			CompensationRequired: false,
		}
		_ = subRes
		break
	}

	lastResult.Attempts = attempts
	lastResult.WorkTimeMs = time.Since(start).Milliseconds()
	workElapsed.UpdateSince(start)
	return lastResult
}

// custodialPublicKeyHex derives the 32-byte raw public key of the signing
// material, lowercase hex (64 chars), as the miner's farmerHex32 argument.
func custodialPublicKeyHex(secretSeed string) (string, error) {
	kp, err := keypair.ParseFull(secretSeed)
	if err != nil {
		return "", err
	}
	raw, err := strkey.Decode(strkey.VersionByteAccountID, kp.Address())
	if err != nil {
		return "", err
	}
	return hexutil.Encode(raw)[2:], nil
}
