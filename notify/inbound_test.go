package notify

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kale-pool/pooler/coordinator"
	"github.com/kale-pool/pooler/monitor"
)

type stubScheduler struct {
	received []coordinator.PlantingNotification
}

func (s *stubScheduler) ReceivePlantingNotification(n coordinator.PlantingNotification) {
	s.received = append(s.received, n)
}

type stubMonitorView struct {
	state  monitor.State
	cursor uint32
	stats  *monitor.Stats
}

func (m *stubMonitorView) State() monitor.State   { return m.state }
func (m *stubMonitorView) Cursor() uint32         { return m.cursor }
func (m *stubMonitorView) Stats() *monitor.Stats  { return m.stats }

func newStubMonitorView(state monitor.State) *stubMonitorView {
	return &stubMonitorView{state: state, cursor: 42, stats: monitor.NewStats(time.Now())}
}

// Tests HandlePlantingStatus schedules work when camelCase fields with a
// full blockData payload are present
func TestHandlePlantingStatusCamelCase(t *testing.T) {
	sched := &stubScheduler{}
	h := NewInbound(sched, "token", newStubMonitorView(monitor.StateRunning), 10)

	body := `{
		"blockIndex": 10,
		"blockTimestamp": 1700000000,
		"plantedFarmers": [{"farmerId":"f1","custodialWallet":"GABC","custodialSecretKey":"SABC","stakeAmount":"100"}],
		"blockData": {"entropy":"` + strings.Repeat("ab", 32) + `"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/backend/planting-status", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.HandlePlantingStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(sched.received) != 1 {
		t.Fatalf("expected one scheduled notification, got %d", len(sched.received))
	}
	if sched.received[0].BlockIndex != 10 {
		t.Fatalf("unexpected block index: %d", sched.received[0].BlockIndex)
	}
}

// Tests HandlePlantingStatus folds snake_case fields to the same result
func TestHandlePlantingStatusSnakeCase(t *testing.T) {
	sched := &stubScheduler{}
	h := NewInbound(sched, "token", newStubMonitorView(monitor.StateRunning), 10)

	body := `{
		"block_index": 11,
		"block_timestamp": 1700000001,
		"planted_farmers": [{"farmer_id":"f1","custodial_wallet":"GABC","custodial_secret_key":"SABC","stake_amount":"100"}],
		"block_data": {"entropy":"` + strings.Repeat("cd", 32) + `"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/backend/planting-status", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.HandlePlantingStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(sched.received) != 1 || sched.received[0].BlockIndex != 11 {
		t.Fatalf("expected notification for block 11, got %+v", sched.received)
	}
}

// Tests HandlePlantingStatus drops (200s, does not schedule) a notification
// with no plantable work
func TestHandlePlantingStatusNoWorkDropped(t *testing.T) {
	sched := &stubScheduler{}
	h := NewInbound(sched, "token", newStubMonitorView(monitor.StateRunning), 10)

	body := `{"blockIndex": 5, "plantedFarmers": []}`
	req := httptest.NewRequest(http.MethodPost, "/backend/planting-status", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.HandlePlantingStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 even for a no-op notification, got %d", rec.Code)
	}
	if len(sched.received) != 0 {
		t.Fatalf("expected no scheduled work, got %d", len(sched.received))
	}
}

// Tests HandlePlantedFarmers rejects a request without the bearer token
func TestHandlePlantedFarmersUnauthorized(t *testing.T) {
	sched := &stubScheduler{}
	h := NewInbound(sched, "secret-token", newStubMonitorView(monitor.StateRunning), 10)

	req := httptest.NewRequest(http.MethodPost, "/backend/planted-farmers", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	h.HandlePlantedFarmers(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

// Tests HandlePlantedFarmers schedules work given a valid bearer token and
// non-empty farmer list
func TestHandlePlantedFarmersAuthorized(t *testing.T) {
	sched := &stubScheduler{}
	h := NewInbound(sched, "secret-token", newStubMonitorView(monitor.StateRunning), 10)

	body := `{"blockIndex":7,"entropy":"` + strings.Repeat("11", 32) + `","plantedFarmers":[{"farmerId":"f2"}]}`
	req := httptest.NewRequest(http.MethodPost, "/backend/planted-farmers", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	h.HandlePlantedFarmers(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(sched.received) != 1 || sched.received[0].BlockIndex != 7 {
		t.Fatalf("expected scheduled notification for block 7, got %+v", sched.received)
	}
}

// Tests HandlePlantedFarmers rejects an empty farmer list even when
// authorized
func TestHandlePlantedFarmersEmptyRejected(t *testing.T) {
	sched := &stubScheduler{}
	h := NewInbound(sched, "secret-token", newStubMonitorView(monitor.StateRunning), 10)

	body := `{"blockIndex":7,"plantedFarmers":[]}`
	req := httptest.NewRequest(http.MethodPost, "/backend/planted-farmers", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	h.HandlePlantedFarmers(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// Tests HandleHealth reports unhealthy when the monitor is halted
func TestHandleHealthHalted(t *testing.T) {
	h := NewInbound(&stubScheduler{}, "token", newStubMonitorView(monitor.StateHalted), 10)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for halted monitor, got %d", rec.Code)
	}
}

// Tests HandleHealth reports unhealthy once the configured error ceiling is
// zero, even while the monitor is still "running"
func TestHandleHealthErrorCeiling(t *testing.T) {
	view := newStubMonitorView(monitor.StateRunning)
	h := NewInbound(&stubScheduler{}, "token", view, 0)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when maxErrorCount is 0, got %d", rec.Code)
	}
}

// Tests HandleHealth reports healthy when running under the error ceiling
func TestHandleHealthHealthy(t *testing.T) {
	h := NewInbound(&stubScheduler{}, "token", newStubMonitorView(monitor.StateRunning), 10)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
