package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kale-pool/pooler/chain"
)

type stubReader struct {
	mu    sync.Mutex
	snaps []*chain.Snapshot
	err   error
	calls int
}

func (r *stubReader) Read(ctx context.Context) (*chain.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	idx := r.calls
	if idx >= len(r.snaps) {
		idx = len(r.snaps) - 1
	}
	r.calls++
	return r.snaps[idx], nil
}

type stubPublisher struct {
	mu     sync.Mutex
	events []DiscoveryEvent
	fail   bool
}

func (p *stubPublisher) PublishBlockDiscovered(ctx context.Context, event DiscoveryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("publish failed")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func testConfig() Config {
	return Config{PollInterval: 10 * time.Millisecond, InitialDelay: time.Millisecond, MaxErrorCount: 3}
}

// Tests Start seeds the cursor and advances it on a subsequent poll
func TestMonitorAdvancesCursor(t *testing.T) {
	reader := &stubReader{snaps: []*chain.Snapshot{
		{Index: 5},
		{Index: 6},
	}}
	pub := &stubPublisher{}
	m := New(reader, pub, testConfig())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if m.Cursor() == 6 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if m.Cursor() != 6 {
		t.Fatalf("expected cursor to advance to 6, got %d", m.Cursor())
	}
	if pub.count() == 0 {
		t.Fatalf("expected at least one discovery publish")
	}
}

// Tests the monitor does not advance its cursor when publish fails
func TestMonitorDoesNotAdvanceOnPublishFailure(t *testing.T) {
	reader := &stubReader{snaps: []*chain.Snapshot{
		{Index: 5},
		{Index: 6},
	}}
	pub := &stubPublisher{fail: true}
	m := New(reader, pub, testConfig())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	time.Sleep(100 * time.Millisecond)
	if m.Cursor() != 5 {
		t.Fatalf("expected cursor to stay at seed value 5, got %d", m.Cursor())
	}
}

// Tests the monitor halts once consecutive poll errors reach the ceiling
func TestMonitorHaltsOnErrorCeiling(t *testing.T) {
	reader := &stubReader{snaps: []*chain.Snapshot{{Index: 1}}}
	pub := &stubPublisher{}
	m := New(reader, pub, Config{PollInterval: 5 * time.Millisecond, InitialDelay: time.Millisecond, MaxErrorCount: 2})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	reader.mu.Lock()
	reader.err = errors.New("rpc down")
	reader.mu.Unlock()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if m.State() == StateHalted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if m.State() != StateHalted {
		t.Fatalf("expected monitor to halt, state=%v", m.State())
	}
}

// Tests isPlantable's age window boundaries
func TestIsPlantable(t *testing.T) {
	cases := map[time.Duration]bool{
		0:                  false,
		29 * time.Second:   false,
		30 * time.Second:   true,
		239 * time.Second:  true,
		240 * time.Second:  false,
	}
	for age, want := range cases {
		if got := isPlantable(age); got != want {
			t.Fatalf("isPlantable(%v) = %v, want %v", age, got, want)
		}
	}
}

// Tests RecentDiscoveries reflects events published through the monitor's
// discovery feed, bounded to recentDiscoveriesLimit
func TestMonitorRecentDiscoveries(t *testing.T) {
	reader := &stubReader{snaps: []*chain.Snapshot{
		{Index: 1}, {Index: 2}, {Index: 3},
	}}
	pub := &stubPublisher{}
	m := New(reader, pub, testConfig())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if m.Cursor() == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	deadline = time.Now().Add(200 * time.Millisecond)
	var recent []DiscoveryEvent
	for time.Now().Before(deadline) {
		recent = m.RecentDiscoveries()
		if len(recent) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(recent) == 0 {
		t.Fatalf("expected at least one recent discovery event")
	}
	last := recent[len(recent)-1]
	if last.BlockIndex != 3 {
		t.Fatalf("expected last recorded discovery to be block 3, got %d", last.BlockIndex)
	}
}

// Tests State.String covers all three states
func TestStateString(t *testing.T) {
	if StateIdle.String() != "idle" || StateRunning.String() != "running" || StateHalted.String() != "halted" {
		t.Fatalf("unexpected state strings")
	}
}
