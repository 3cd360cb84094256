// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package miner supervises one invocation at a time of the external
// hash-search executable (kale-farmer). The overall shape — a struct
// guarding a single live invocation with a mutex, a hard
// timer-based timeout, and a signal used to tear down the in-flight work —
// is carried over from the teacher's sealing-task supervision in the
// original miner/worker.go (environment + commitInterrupt* atomic signal +
// time.AfterFunc(timeout) pattern), generalized from "build one EVM block"
// to "run one external process to completion or timeout".
package miner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/google/uuid"
	"github.com/kale-pool/pooler/params"
)

var (
	// ErrTimeout is returned when the child does not finish within the hard
	// wall-clock timeout.
	ErrTimeout = errors.New("miner: timed out")

	// ErrParse is returned when the child exits cleanly but its terminal
	// stdout line does not parse as a two-element JSON array.
	ErrParse = errors.New("miner: could not parse output")

	// ErrSpawn is returned when the child process itself could not be
	// started.
	ErrSpawn = errors.New("miner: spawn failed")

	runsStarted  = metrics.NewRegisteredCounter("pooler/miner/runs", nil)
	runsTimedOut = metrics.NewRegisteredCounter("pooler/miner/timeouts", nil)
	runDuration  = metrics.NewRegisteredTimer("pooler/miner/duration", nil)
)

// Output is the terminal result of one successful miner invocation.
type Output struct {
	Nonce uint64
	Hash  string // lowercase hex
	Zeros int    // count of leading '0' hex characters in Hash
}

// Runner supervises exactly one live child process at a time across the
// whole Pooler, mirroring the spec's "at most one live child" resource
// constraint (§5). binPath is the external kale-farmer executable,
// configured rather than hard-coded per spec.md §9.
type Runner struct {
	binPath string
	timeout time.Duration

	invokeMu sync.Mutex // serializes invocations; the only write-contended lock in the process

	stateMu sync.Mutex // guards current, independent of invokeMu so Kill never blocks on a live Run
	current *exec.Cmd  // the currently-live child, if any
}

// NewRunner builds a Runner around the given executable path.
func NewRunner(binPath string) *Runner {
	return &Runner{binPath: binPath, timeout: params.MinerTimeout}
}

// Kill terminates the currently-live child, if any. Used by the Coordinator
// on emergency stop / process shutdown; safe to call while a Run is in
// flight.
func (r *Runner) Kill() {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.current != nil && r.current.Process != nil {
		_ = r.current.Process.Kill()
	}
}

// Running reports whether a child process is currently live.
func (r *Runner) Running() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.current != nil
}

// Run spawns the external hash-search executable with the four documented
// arguments and waits for it to either finish or hit the hard timeout. A
// nil Output with a nil error means "no solution, but nothing went wrong
// cannot be distinguished from ErrTimeout/ErrParse" is never returned: the
// returned error always identifies why output is nil.
func (r *Runner) Run(ctx context.Context, farmerHex32 string, blockIndex uint32, entropyHex64 string, nonceCount uint64) (*Output, error) {
	r.invokeMu.Lock()
	defer r.invokeMu.Unlock()

	attemptID := uuid.NewString()
	runsStarted.Inc(1)
	start := time.Now()
	defer func() { runDuration.UpdateSince(start) }()

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{
		farmerHex32,
		strconv.FormatUint(uint64(blockIndex), 10),
		entropyHex64,
		strconv.FormatUint(nonceCount, 10),
	}
	cmd := exec.CommandContext(runCtx, r.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.stateMu.Lock()
	r.current = cmd
	r.stateMu.Unlock()

	log.Info("Starting miner invocation", "attempt", attemptID, "block", blockIndex, "nonceCount", nonceCount)
	err := cmd.Run()

	r.stateMu.Lock()
	r.current = nil
	r.stateMu.Unlock()

	if runCtx.Err() != nil {
		runsTimedOut.Inc(1)
		log.Warn("Miner invocation timed out", "attempt", attemptID, "block", blockIndex, "stderr", stderr.String())
		return nil, ErrTimeout
	}
	if err != nil {
		log.Error("Miner invocation failed to run", "attempt", attemptID, "block", blockIndex, "err", err, "stderr", stderr.String())
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	out, perr := parseOutput(stdout.String())
	if perr != nil {
		log.Warn("Miner produced unparseable output", "attempt", attemptID, "block", blockIndex, "err", perr)
		return nil, ErrParse
	}
	log.Info("Miner invocation complete", "attempt", attemptID, "block", blockIndex, "nonce", out.Nonce, "zeros", out.Zeros)
	return out, nil
}

// parseOutput parses the final non-empty stdout line as a two-element JSON
// array [nonce, hashHex] and computes the leading-zero count of the hash.
func parseOutput(stdout string) (*Output, error) {
	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	var last string
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			last = strings.TrimSpace(lines[i])
			break
		}
	}
	if last == "" {
		return nil, fmt.Errorf("%w: empty output", ErrParse)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(last), &raw); err != nil || len(raw) != 2 {
		return nil, fmt.Errorf("%w: not a two-element array", ErrParse)
	}

	var nonce uint64
	if err := json.Unmarshal(raw[0], &nonce); err != nil {
		return nil, fmt.Errorf("%w: bad nonce: %v", ErrParse, err)
	}
	var rawHash string
	if err := json.Unmarshal(raw[1], &rawHash); err != nil {
		return nil, fmt.Errorf("%w: bad hash: %v", ErrParse, err)
	}
	if !strings.HasPrefix(rawHash, "0x") {
		rawHash = "0x" + rawHash
	}
	hashBytes, err := hexutil.Decode(rawHash)
	if err != nil {
		return nil, fmt.Errorf("%w: bad hash hex: %v", ErrParse, err)
	}
	hash := hexutil.Encode(hashBytes)[2:]

	return &Output{Nonce: nonce, Hash: hash, Zeros: countLeadingZeros(hash)}, nil
}

func countLeadingZeros(hexHash string) int {
	n := 0
	for _, c := range hexHash {
		if c != '0' {
			break
		}
		n++
	}
	return n
}
