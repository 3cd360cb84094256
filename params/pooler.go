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

// Package params holds the protocol-level constants of the mining cycle: the
// delays, timeouts, and retry bounds that are not runtime-configurable
// because they are part of the pipeline's timing contract rather than an
// operator preference.
package params

import "time"

const (
	// PlantDelay is the assumed gap between a block's on-chain timestamp and
	// the Backend completing planting for it.
	PlantDelay = 30 * time.Second

	// WorkDelay is added on top of the block timestamp to compute the target
	// wall-clock time mining work should begin. WorkDelayMs = WorkDelay in
	// milliseconds is the quantity the Work Scheduler actually adds.
	WorkDelay = 150 * time.Second

	// HarvestDelay is informational: the Backend's own delay after work
	// completion before it attempts harvest. The Pooler core does not wait
	// on it, but it is part of the protocol timing contract.
	HarvestDelay = 30 * time.Second

	// MinerTimeout bounds a single Miner Runner invocation.
	MinerTimeout = 300 * time.Second

	// DefaultNonceCount is the starting search-space size handed to the
	// external hash-search executable.
	DefaultNonceCount = 10_000_000

	// NonceCountStep is added to DefaultNonceCount per recovery attempt.
	NonceCountStep = 1_000_000

	// MaxRecoveryAttempts bounds the number of extra mining attempts made
	// after a miner produces no output.
	MaxRecoveryAttempts = 3

	// RelayRetryAttempts is the total number of attempts (including the
	// first) the Relay Submitter makes against the relay gateway.
	RelayRetryAttempts = 3

	// RelayRetryBackoff is the fixed sleep between relay submission
	// attempts.
	RelayRetryBackoff = 2 * time.Second

	// DefaultPollInterval is how often the Block Monitor polls the chain
	// once running.
	DefaultPollInterval = 5 * time.Second

	// DefaultInitialDelay is the delay before the Block Monitor's first
	// scheduled poll after seeding its cursor.
	DefaultInitialDelay = 10 * time.Second

	// DefaultMaxErrorCount is the number of consecutive failed polls that
	// halts the Block Monitor.
	DefaultMaxErrorCount = 10

	// DefaultMaxMissedBlocks bounds how many blocks a single reorg fallback
	// step is expected to regress across. It only seeds
	// config.Identity.MaxMissedBlocks; no component reads that value.
	DefaultMaxMissedBlocks = 5

	// DefaultBackendTimeout bounds outbound Notifier HTTP calls to the
	// Backend.
	DefaultBackendTimeout = 30 * time.Second

	// StartupDiscoveryMaxAge is the age ceiling under which the monitor's
	// startup shortcut will emit a discovery notification for the seed
	// block.
	StartupDiscoveryMaxAge = 120 * time.Second

	// PlantableMinAge and PlantableMaxAge bound the block-age window in
	// which a newly discovered block is considered plantable.
	PlantableMinAge = 30 * time.Second
	PlantableMaxAge = 240 * time.Second

	// ShutdownGracePeriod bounds how long graceful shutdown waits for
	// in-flight work before abandoning it.
	ShutdownGracePeriod = 30 * time.Second

	// DefaultPoolerPort is the inbound HTTP server's default listen port.
	DefaultPoolerPort = 3001

	// EntropyLength is the fixed byte length of a block's entropy value.
	EntropyLength = 32

	// MaxZeros bounds the min_zeros/max_zeros fields of a BlockRecord.
	MaxZeros = 64
)
