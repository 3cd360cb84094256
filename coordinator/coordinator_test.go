package coordinator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kale-pool/pooler/work"
	"github.com/stellar/go/keypair"
)

type stubScheduler struct {
	delay   time.Duration
	batch   *work.Batch
	err     error
	calls   int
	mu      sync.Mutex
}

func (s *stubScheduler) Run(ctx context.Context, blockTimestampSec int64, blockIndex uint32, entropyHex string, jobs []work.Job) (*work.Batch, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.batch, s.err
}

type stubPublisher struct {
	mu       sync.Mutex
	reports  []CompletionReport
}

func (p *stubPublisher) PublishWorkCompleted(ctx context.Context, report CompletionReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, report)
	return nil
}

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reports)
}

type stubKiller struct {
	killed bool
}

func (k *stubKiller) Kill() { k.killed = true }

func validNotification() PlantingNotification {
	kp, err := keypair.Random()
	if err != nil {
		panic(err)
	}
	return PlantingNotification{
		BlockIndex:     1,
		Entropy:        strings.Repeat("ab", 32),
		BlockTimestamp: time.Now().Unix(),
		PlantedFarmers: []work.PlantedFarmer{{FarmerID: "f1", CustodialWallet: "wallet", CustodialSecretKey: kp.Seed()}},
	}
}

// Tests ReceivePlantingNotification schedules a batch and publishes a
// completion report once the scheduler finishes
func TestReceivePlantingNotificationPublishesReport(t *testing.T) {
	sched := &stubScheduler{batch: &work.Batch{BlockIndex: 1, Results: []work.Result{{FarmerID: "f1", Status: work.StatusSuccess}}}}
	pub := &stubPublisher{}
	killer := &stubKiller{}
	c := New(context.Background(), sched, pub, killer)

	c.ReceivePlantingNotification(validNotification())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && pub.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if pub.count() != 1 {
		t.Fatalf("expected one completion report, got %d", pub.count())
	}
	if pub.reports[0].SuccessfulWork != 1 {
		t.Fatalf("expected 1 successful result, got %+v", pub.reports[0])
	}
}

// Tests a notification with no planted farmers is dropped without scheduling
// any work
func TestReceivePlantingNotificationEmptyFarmersDropped(t *testing.T) {
	sched := &stubScheduler{}
	pub := &stubPublisher{}
	c := New(context.Background(), sched, pub, &stubKiller{})

	n := validNotification()
	n.PlantedFarmers = nil
	c.ReceivePlantingNotification(n)

	time.Sleep(50 * time.Millisecond)
	sched.mu.Lock()
	calls := sched.calls
	sched.mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected scheduler not to be invoked, got %d calls", calls)
	}
}

// Tests a notification with malformed entropy is dropped without scheduling
// any work
func TestReceivePlantingNotificationBadEntropyDropped(t *testing.T) {
	sched := &stubScheduler{}
	pub := &stubPublisher{}
	c := New(context.Background(), sched, pub, &stubKiller{})

	n := validNotification()
	n.Entropy = "not-hex"
	c.ReceivePlantingNotification(n)

	time.Sleep(50 * time.Millisecond)
	sched.mu.Lock()
	calls := sched.calls
	sched.mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected scheduler not to be invoked for malformed entropy, got %d calls", calls)
	}
}

// Tests a planted farmer with an unparseable custodial key is skipped but
// the rest of the batch still runs
func TestReceivePlantingNotificationBadFarmerKeySkipped(t *testing.T) {
	sched := &stubScheduler{batch: &work.Batch{BlockIndex: 1}}
	pub := &stubPublisher{}
	c := New(context.Background(), sched, pub, &stubKiller{})

	n := validNotification()
	n.PlantedFarmers = append(n.PlantedFarmers, work.PlantedFarmer{FarmerID: "bad", CustodialWallet: "wallet2", CustodialSecretKey: "not-a-seed"})
	c.ReceivePlantingNotification(n)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && pub.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if pub.count() != 1 {
		t.Fatalf("expected the batch to still run with the valid farmer, got %d reports", pub.count())
	}
}

// Tests EmergencyStop kills the miner and cancels active scheduler tasks
func TestEmergencyStopKillsAndCancels(t *testing.T) {
	sched := &stubScheduler{delay: time.Second}
	pub := &stubPublisher{}
	killer := &stubKiller{}
	c := New(context.Background(), sched, pub, killer)

	c.ReceivePlantingNotification(validNotification())
	time.Sleep(20 * time.Millisecond)

	status := c.Status()
	if len(status.ActiveBlocks) != 1 {
		t.Fatalf("expected one active block before stop, got %+v", status)
	}

	c.EmergencyStop()
	if !killer.killed {
		t.Fatalf("expected miner to be killed on emergency stop")
	}

	if err := c.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	// A cancelled batch must not publish a completion report.
	if pub.count() != 0 {
		t.Fatalf("expected no completion report for a cancelled batch, got %d", pub.count())
	}
}

// Tests Status reports no pending/active blocks once a batch finishes
func TestStatusClearsAfterCompletion(t *testing.T) {
	sched := &stubScheduler{batch: &work.Batch{BlockIndex: 1}}
	pub := &stubPublisher{}
	c := New(context.Background(), sched, pub, &stubKiller{})

	c.ReceivePlantingNotification(validNotification())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && pub.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	status := c.Status()
	if len(status.PendingBlocks) != 0 || len(status.ActiveBlocks) != 0 {
		t.Fatalf("expected empty status after completion, got %+v", status)
	}
}
