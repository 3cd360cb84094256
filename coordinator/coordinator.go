// Package coordinator implements the Coordinator (C6): it accepts inbound
// planting notifications, dispatches each to a Work Scheduler task, and
// pushes the aggregated completion report back to the Backend once a
// block's batch finishes. Background-task supervision via an errgroup,
// each task holding only an identifier back to its owner rather than a
// pointer cycle, is grounded on the teacher's use of errgroup.Group to
// supervise concurrent per-peer sync tasks.
package coordinator

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/kale-pool/pooler/chain"
	"github.com/kale-pool/pooler/work"
	"github.com/stellar/go/keypair"
	"golang.org/x/sync/errgroup"
)

// Scheduler is the subset of work.Scheduler the Coordinator drives.
type Scheduler interface {
	Run(ctx context.Context, blockTimestampSec int64, blockIndex uint32, entropyHex string, jobs []work.Job) (*work.Batch, error)
}

// ReportPublisher is implemented by the Notifier: it POSTs the aggregated
// work-completed report to the Backend.
type ReportPublisher interface {
	PublishWorkCompleted(ctx context.Context, report CompletionReport) error
}

// MinerKiller lets the Coordinator terminate any live miner child on
// emergency stop.
type MinerKiller interface {
	Kill()
}

// Coordinator owns pendingByBlock and activeByBlock, both keyed by block
// index, for the lifetime of the process.
type Coordinator struct {
	scheduler Scheduler
	publisher ReportPublisher
	killer    MinerKiller

	mu             sync.Mutex
	pendingByBlock map[uint32]*PlantingNotification
	activeByBlock  map[uint32]context.CancelFunc

	group *errgroup.Group
	gctx  context.Context
}

// New builds a Coordinator bound to ctx: cancelling ctx (process shutdown)
// aborts every active scheduler task at its next checkpoint.
func New(ctx context.Context, scheduler Scheduler, publisher ReportPublisher, killer MinerKiller) *Coordinator {
	group, gctx := errgroup.WithContext(ctx)
	return &Coordinator{
		scheduler:      scheduler,
		publisher:      publisher,
		killer:         killer,
		pendingByBlock: make(map[uint32]*PlantingNotification),
		activeByBlock:  make(map[uint32]context.CancelFunc),
		group:          group,
		gctx:           gctx,
	}
}

// ReceivePlantingNotification accepts one inbound notification, translates
// its farmers to WorkJobs, and launches a background scheduler task. A
// notification with no planted farmers is logged and dropped (the Backend
// is trusted; this is not treated as an error).
func (c *Coordinator) ReceivePlantingNotification(n PlantingNotification) {
	if len(n.PlantedFarmers) == 0 {
		log.Warn("Planting notification has no planted farmers; ignoring", "block", n.BlockIndex)
		return
	}
	if _, err := chain.DecodeEntropyHex(n.Entropy); err != nil {
		log.Warn("Planting notification has malformed entropy; ignoring", "block", n.BlockIndex, "err", err)
		return
	}

	c.mu.Lock()
	c.pendingByBlock[n.BlockIndex] = &n
	taskCtx, cancel := context.WithCancel(c.gctx)
	c.activeByBlock[n.BlockIndex] = cancel
	c.mu.Unlock()

	jobs := make([]work.Job, 0, len(n.PlantedFarmers))
	for _, f := range n.PlantedFarmers {
		if _, err := keypair.ParseFull(f.CustodialSecretKey); err != nil {
			log.Warn("Planted farmer has an unparseable custodial key; skipping", "block", n.BlockIndex, "farmer", f.FarmerID, "err", err)
			continue
		}
		jobs = append(jobs, work.Job{
			BlockIndex: n.BlockIndex,
			EntropyHex: n.Entropy,
			Farmer:     f,
		})
	}

	c.group.Go(func() error {
		defer cancel()
		c.runBatch(taskCtx, n.BlockIndex, n.BlockTimestamp, n.Entropy, jobs)
		return nil
	})
}

// runBatch drives one block's Work Scheduler task to completion (success or
// error), clears both maps, then emits a completion report. No report is
// emitted when ctx was cancelled (emergency stop or shutdown).
func (c *Coordinator) runBatch(ctx context.Context, blockIndex uint32, blockTimestamp int64, entropyHex string, jobs []work.Job) {
	batch, err := c.scheduler.Run(ctx, blockTimestamp, blockIndex, entropyHex, jobs)

	c.mu.Lock()
	delete(c.pendingByBlock, blockIndex)
	delete(c.activeByBlock, blockIndex)
	c.mu.Unlock()

	if ctx.Err() != nil {
		log.Warn("Work batch aborted by shutdown; discarding late results", "block", blockIndex)
		return
	}

	var results []work.Result
	if batch != nil {
		results = batch.Results
	}
	report := summarize(blockIndex, results)

	pubCtx := context.Background()
	if err := c.publisher.PublishWorkCompleted(pubCtx, report); err != nil {
		log.Error("Failed to publish work-completed report", "block", blockIndex, "err", err)
	}
	if err != nil {
		log.Error("Work scheduler task returned an error", "block", blockIndex, "err", err)
	}
}

// EmergencyStop drops all pending notifications, kills any live miner
// child, and lets active scheduler tasks unwind on their own — in-flight
// results that surface afterward are discarded by runBatch's ctx.Err()
// check.
func (c *Coordinator) EmergencyStop() {
	c.mu.Lock()
	c.pendingByBlock = make(map[uint32]*PlantingNotification)
	cancels := make([]context.CancelFunc, 0, len(c.activeByBlock))
	for _, cancel := range c.activeByBlock {
		cancels = append(cancels, cancel)
	}
	c.mu.Unlock()

	c.killer.Kill()
	for _, cancel := range cancels {
		cancel()
	}
}

// Wait blocks until every launched scheduler task has returned.
func (c *Coordinator) Wait() error {
	return c.group.Wait()
}

// StatusSnapshot is what GET /status/work reports.
type StatusSnapshot struct {
	PendingBlocks []uint32
	ActiveBlocks  []uint32
}

// Status returns the current pending/active block indices.
func (c *Coordinator) Status() StatusSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := StatusSnapshot{}
	for idx := range c.pendingByBlock {
		snap.PendingBlocks = append(snap.PendingBlocks, idx)
	}
	for idx := range c.activeByBlock {
		snap.ActiveBlocks = append(snap.ActiveBlocks, idx)
	}
	return snap
}
