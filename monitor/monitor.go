// Package monitor implements the Block Monitor: a long-running polling loop
// over the Chain Reader that detects index advances and publishes
// block-discovered notifications, tolerating transient errors up to a
// consecutive-error ceiling. The state machine and ticker-driven poll loop
// are grounded on the teacher's downloader sync-loop shape (idle/running
// states advanced by a single goroutine reading a ticker channel alongside
// a cancellation channel), adapted here to chain-storage polling instead of
// header/body sync.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/kale-pool/pooler/chain"
	"github.com/kale-pool/pooler/params"
	"golang.org/x/time/rate"
)

// recentDiscoveriesLimit bounds the in-memory ring of recent discovery
// events kept for the status surface.
const recentDiscoveriesLimit = 20

var blocksDiscovered = metrics.NewRegisteredCounter("pooler/blocks/discovered", nil)

// State is the Block Monitor's coarse lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Reader is the subset of chain.Reader the monitor needs.
type Reader interface {
	Read(ctx context.Context) (*chain.Snapshot, error)
}

// DiscoveryPublisher is implemented by the Notifier: it POSTs a
// block-discovered event to the Backend. A non-nil error means the cursor
// must not advance, per the protocol's at-least-once discovery semantics.
type DiscoveryPublisher interface {
	PublishBlockDiscovered(ctx context.Context, event DiscoveryEvent) error
}

// DiscoveryEvent carries everything the Notifier needs to build the
// outbound block-discovered body.
type DiscoveryEvent struct {
	BlockIndex            uint32
	Block                 *chain.BlockRecord
	BlockAge              time.Duration
	Plantable             bool
	Startup               bool
	DiscoveredAt          time.Time
	PoolerUptimeMs        int64
	TotalBlocksDiscovered int
}

// Config bounds the monitor's timing and error tolerance.
type Config struct {
	PollInterval    time.Duration
	InitialDelay    time.Duration
	MaxErrorCount   int
}

// DefaultConfig returns the protocol's documented defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:  params.DefaultPollInterval,
		InitialDelay:  params.DefaultInitialDelay,
		MaxErrorCount: params.DefaultMaxErrorCount,
	}
}

// Monitor runs the block-discovery polling loop.
type Monitor struct {
	reader    Reader
	publisher DiscoveryPublisher
	cfg       Config
	stats     *Stats

	mu              sync.Mutex
	state           State
	cursor          uint32
	startupNotified bool

	discoveryFeed event.Feed
	haltedFeed    event.Feed
	recentMu      sync.Mutex
	recent        []DiscoveryEvent

	// discovered guards against publishing the same block index twice, in
	// case a future change ever overlaps poll cycles.
	discovered mapset.Set[uint32]

	// errorLimiter backs off the retry cadence beyond the normal poll timer
	// once the Chain Reader starts failing, so a sustained RPC outage does
	// not get hammered at the steady-state poll rate.
	errorLimiter *rate.Limiter

	stopCh     chan struct{}
	doneCh     chan struct{}
	recentDone chan struct{}
}

// New builds a Monitor in the idle state. It also starts an internal
// subscriber that keeps a bounded ring of recent DiscoveryEvents for the
// status surface, the same publish/subscribe idiom the teacher uses for its
// own chain-head feeds (event.Feed plus a small dedicated consumer).
func New(reader Reader, publisher DiscoveryPublisher, cfg Config) *Monitor {
	m := &Monitor{
		reader:     reader,
		publisher:  publisher,
		cfg:        cfg,
		stats:      NewStats(time.Now()),
		state:      StateIdle,
		discovered:   mapset.NewSet[uint32](),
		errorLimiter: rate.NewLimiter(rate.Every(2*cfg.PollInterval), 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		recentDone:   make(chan struct{}),
	}
	go m.trackRecentDiscoveries()
	return m
}

// trackRecentDiscoveries subscribes to the monitor's own discovery feed and
// keeps the last recentDiscoveriesLimit events for RecentDiscoveries.
func (m *Monitor) trackRecentDiscoveries() {
	defer close(m.recentDone)
	ch := make(chan DiscoveryEvent, 16)
	sub := m.discoveryFeed.Subscribe(ch)
	defer sub.Unsubscribe()
	for {
		select {
		case event := <-ch:
			m.recentMu.Lock()
			m.recent = append(m.recent, event)
			if len(m.recent) > recentDiscoveriesLimit {
				m.recent = m.recent[len(m.recent)-recentDiscoveriesLimit:]
			}
			m.recentMu.Unlock()
		case err := <-sub.Err():
			if err != nil {
				log.Warn("Discovery feed subscription ended", "err", err)
			}
			return
		case <-m.stopCh:
			return
		}
	}
}

// RecentDiscoveries returns the most recent discovery events published,
// oldest first, for the status surface.
func (m *Monitor) RecentDiscoveries() []DiscoveryEvent {
	m.recentMu.Lock()
	defer m.recentMu.Unlock()
	out := make([]DiscoveryEvent, len(m.recent))
	copy(out, m.recent)
	return out
}

// SubscribeHalted lets a caller observe when the monitor halts on the
// consecutive-error ceiling.
func (m *Monitor) SubscribeHalted(ch chan<- struct{}) event.Subscription {
	return m.haltedFeed.Subscribe(ch)
}

// Stats exposes the monitor's counters for the HTTP boundary.
func (m *Monitor) Stats() *Stats { return m.stats }

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Cursor returns the current block index the monitor has advanced to.
func (m *Monitor) Cursor() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// Start seeds the cursor from one Chain Reader call, transitions to
// running, runs the startup discovery shortcut, then polls forever on
// cfg.PollInterval until Stop is called or the error ceiling is hit.
func (m *Monitor) Start(ctx context.Context) error {
	snap, err := m.reader.Read(ctx)
	if err != nil {
		return fmt.Errorf("seed block cursor: %w", err)
	}

	m.mu.Lock()
	m.cursor = snap.Index
	m.state = StateRunning
	m.mu.Unlock()

	log.Info("Block monitor started", "cursor", snap.Index)

	m.runStartupShortcut(ctx, snap)

	go m.loop(ctx)
	return nil
}

// Stop halts the polling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.state == StateHalted {
		m.mu.Unlock()
		return
	}
	m.state = StateHalted
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh
	<-m.recentDone
}

func (m *Monitor) runStartupShortcut(ctx context.Context, snap *chain.Snapshot) {
	if snap.Block == nil {
		return
	}
	age := blockAge(snap.Block, time.Now())
	if age >= params.StartupDiscoveryMaxAge {
		return
	}
	if m.discovered.Contains(snap.Index) {
		return
	}
	now := time.Now()
	statsSnap := m.stats.Snapshot(now)
	event := DiscoveryEvent{
		BlockIndex:            snap.Index,
		Block:                 snap.Block,
		BlockAge:              age,
		Plantable:             isPlantable(age),
		Startup:               true,
		DiscoveredAt:          now,
		PoolerUptimeMs:        statsSnap.UptimeMs,
		TotalBlocksDiscovered: statsSnap.TotalBlocksDiscovered,
	}
	if err := m.publisher.PublishBlockDiscovered(ctx, event); err != nil {
		log.Warn("Startup discovery notification failed", "block", snap.Index, "err", err)
		return
	}
	m.mu.Lock()
	m.startupNotified = true
	m.mu.Unlock()
	m.stats.recordSuccess(snap.Block.Timestamp, time.Now())
	m.discovered.Add(snap.Index)
	blocksDiscovered.Inc(1)
	m.discoveryFeed.Send(event)
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.doneCh)

	timer := time.NewTimer(m.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-timer.C:
			if m.State() == StateHalted {
				return
			}
			m.poll(ctx)
			if m.State() == StateHalted {
				return
			}
			timer.Reset(m.cfg.PollInterval)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	snap, err := m.reader.Read(ctx)
	if err != nil {
		m.onPollError(err)
		if werr := m.errorLimiter.Wait(ctx); werr != nil {
			log.Debug("Error-backoff wait interrupted", "err", werr)
		}
		return
	}

	m.mu.Lock()
	cursor := m.cursor
	startupNotified := m.startupNotified
	m.mu.Unlock()

	switch {
	case snap.Index > cursor:
		m.onAdvance(ctx, snap, startupNotified)
	case snap.Index < cursor:
		m.onRegression(snap.Index)
	default:
		m.stats.resetErrorCount()
	}
}

func (m *Monitor) onAdvance(ctx context.Context, snap *chain.Snapshot, startupNotified bool) {
	if m.discovered.Contains(snap.Index) {
		m.mu.Lock()
		m.cursor = snap.Index
		m.mu.Unlock()
		return
	}

	now := time.Now()
	var age time.Duration
	var block *chain.BlockRecord
	if snap.Block != nil {
		block = snap.Block
		age = blockAge(snap.Block, now)
	}

	if startupNotified {
		m.mu.Lock()
		m.startupNotified = false
		m.mu.Unlock()
	}

	statsSnap := m.stats.Snapshot(now)
	event := DiscoveryEvent{
		BlockIndex:            snap.Index,
		Block:                 block,
		BlockAge:              age,
		Plantable:             isPlantable(age),
		DiscoveredAt:          now,
		PoolerUptimeMs:        statsSnap.UptimeMs,
		TotalBlocksDiscovered: statsSnap.TotalBlocksDiscovered,
	}

	if err := m.publisher.PublishBlockDiscovered(ctx, event); err != nil {
		log.Warn("Block-discovered notification failed; cursor not advanced", "block", snap.Index, "err", err)
		m.onPollError(err)
		return
	}

	m.mu.Lock()
	m.cursor = snap.Index
	m.mu.Unlock()

	var ts *time.Time
	if block != nil {
		ts = block.Timestamp
	}
	m.stats.recordSuccess(ts, now)
	m.discovered.Add(snap.Index)
	blocksDiscovered.Inc(1)
	log.Info("New block discovered", "index", snap.Index, "plantable", event.Plantable)
	m.discoveryFeed.Send(event)
}

func (m *Monitor) onRegression(newIndex uint32) {
	log.Warn("Block index regressed; treating as reorg", "from", m.Cursor(), "to", newIndex)
	m.mu.Lock()
	m.cursor = newIndex
	m.mu.Unlock()
	m.stats.resetErrorCount()
}

func (m *Monitor) onPollError(err error) {
	count := m.stats.recordError()
	log.Warn("Block monitor poll failed", "consecutiveErrors", count, "err", err)
	if count >= m.cfg.MaxErrorCount {
		log.Error("Block monitor halted: consecutive error ceiling reached", "ceiling", m.cfg.MaxErrorCount)
		m.mu.Lock()
		m.state = StateHalted
		m.mu.Unlock()
		m.haltedFeed.Send(struct{}{})
	}
}

// blockAge computes now - block.Timestamp, treating a missing timestamp as
// age zero per the protocol's documented tie-break.
func blockAge(b *chain.BlockRecord, now time.Time) time.Duration {
	if b == nil || b.Timestamp == nil {
		return 0
	}
	return now.Sub(*b.Timestamp)
}

func isPlantable(age time.Duration) bool {
	return age >= params.PlantableMinAge && age < params.PlantableMaxAge
}
