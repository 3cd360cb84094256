// Package notify is the HTTP boundary: outbound POSTs to the Backend for
// block-discovered and work-completed events, and the inbound server for
// planting-status / planted-farmers / health / status. The POST-with-
// bearer-and-client-headers shape mirrors the teacher's launchtube-style
// relay client texture carried over into package relay; here it is applied
// to the Backend's own webhook endpoints instead of the relay gateway.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/kale-pool/pooler/coordinator"
	"github.com/kale-pool/pooler/monitor"
	"github.com/kale-pool/pooler/params"
	"golang.org/x/time/rate"
)

// outboundRateLimit caps Backend notification POSTs: a block-discovered
// burst (regression/reorg plus the next poll) should not hammer the
// Backend faster than it can be expected to ingest webhooks.
const outboundRateLimit = rate.Limit(10) // events/sec
const outboundBurst = 20

// OutboundConfig carries everything Outbound needs to address the Backend.
type OutboundConfig struct {
	BackendURL    string
	PoolerID      string
	AuthToken     string
	ClientName    string
	ClientVersion string
	Timeout       time.Duration
}

// Outbound POSTs discovery and completion events to the Backend.
type Outbound struct {
	cfg        OutboundConfig
	httpClient *http.Client
	startedAt  time.Time
	limiter    *rate.Limiter
}

// NewOutbound builds an Outbound notifier.
func NewOutbound(cfg OutboundConfig, startedAt time.Time) *Outbound {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = params.DefaultBackendTimeout
	}
	return &Outbound{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		startedAt:  startedAt,
		limiter:    rate.NewLimiter(outboundRateLimit, outboundBurst),
	}
}

// blockDiscoveredBody is the steady-state (non-startup) discovery body.
type blockDiscoveredBody struct {
	Event      string           `json:"event"`
	PoolerID   string           `json:"poolerId"`
	BlockIndex uint32           `json:"blockIndex"`
	BlockData  blockDataBody    `json:"blockData"`
	Metadata   discoveryMetadata `json:"metadata"`
}

type blockDataBody struct {
	Index     uint32 `json:"index"`
	Timestamp string `json:"timestamp"`
	Entropy   string `json:"entropy"`
	BlockAge  int64  `json:"blockAge"`
	Plantable bool   `json:"plantable"`
	MinStake  string `json:"min_stake"`
	MaxStake  string `json:"max_stake"`
	MinZeros  uint64 `json:"min_zeros"`
	MaxZeros  uint64 `json:"max_zeros"`
	MinGap    uint64 `json:"min_gap"`
	MaxGap    uint64 `json:"max_gap"`
}

type discoveryMetadata struct {
	DiscoveredAt          string `json:"discoveredAt"`
	PoolerUptimeMs         int64  `json:"poolerUptime"`
	TotalBlocksDiscovered int    `json:"totalBlocksDiscovered"`
}

// startupDiscoveredBody is the flat variant used by the startup shortcut.
type startupDiscoveredBody struct {
	PoolerID       string `json:"poolerId"`
	BlockIndex     uint32 `json:"blockIndex"`
	Entropy        string `json:"entropy"`
	BlockTimestamp int64  `json:"blockTimestamp"`
	BlockAge       int64  `json:"blockAge"`
	DiscoveredAt   string `json:"discoveredAt"`
	Source         string `json:"source"`
}

// PublishBlockDiscovered implements monitor.DiscoveryPublisher.
func (o *Outbound) PublishBlockDiscovered(ctx context.Context, event monitor.DiscoveryEvent) error {
	var body any
	if event.Startup {
		var ts int64
		entropy := "0000000000000000000000000000000000000000000000000000000000000000"
		if event.Block != nil {
			entropy = event.Block.EntropyHex()
			if event.Block.Timestamp != nil {
				ts = event.Block.Timestamp.Unix()
			}
		}
		body = startupDiscoveredBody{
			PoolerID:       o.cfg.PoolerID,
			BlockIndex:     event.BlockIndex,
			Entropy:        entropy,
			BlockTimestamp: ts,
			BlockAge:       int64(event.BlockAge.Seconds()),
			DiscoveredAt:   event.DiscoveredAt.UTC().Format(time.RFC3339),
			Source:         "startup_check",
		}
	} else {
		body = o.buildDiscoveryBody(event)
	}
	return o.post(ctx, "/pooler/block-discovered", body, false)
}

func (o *Outbound) buildDiscoveryBody(event monitor.DiscoveryEvent) blockDiscoveredBody {
	var bd blockDataBody
	bd.Index = event.BlockIndex
	bd.Timestamp = time.Now().UTC().Format(time.RFC3339)
	bd.Entropy = "0000000000000000000000000000000000000000000000000000000000000000"
	bd.Plantable = event.Plantable
	bd.BlockAge = int64(event.BlockAge.Seconds())
	if event.Block != nil {
		bd.Entropy = event.Block.EntropyHex()
		bd.MinStake = event.Block.MinStake.String()
		bd.MaxStake = event.Block.MaxStake.String()
		bd.MinZeros = event.Block.MinZeros
		bd.MaxZeros = event.Block.MaxZeros
		bd.MinGap = event.Block.MinGap
		bd.MaxGap = event.Block.MaxGap
		if event.Block.Timestamp != nil {
			bd.Timestamp = event.Block.Timestamp.UTC().Format(time.RFC3339)
		}
	}

	return blockDiscoveredBody{
		Event:      "new_block_discovered",
		PoolerID:   o.cfg.PoolerID,
		BlockIndex: event.BlockIndex,
		BlockData:  bd,
		Metadata: discoveryMetadata{
			DiscoveredAt:          event.DiscoveredAt.UTC().Format(time.RFC3339),
			PoolerUptimeMs:        event.PoolerUptimeMs,
			TotalBlocksDiscovered: event.TotalBlocksDiscovered,
		},
	}
}

// workCompletedBody is the wire shape of the work-completed POST.
type workCompletedBody struct {
	BlockIndex  uint32        `json:"blockIndex"`
	PoolerID    string        `json:"poolerId"`
	WorkResults any           `json:"workResults"`
	Summary     summaryBody   `json:"summary"`
}

type summaryBody struct {
	TotalFarmers    int    `json:"totalFarmers"`
	SuccessfulWork  int    `json:"successfulWork"`
	FailedWork      int    `json:"failedWork"`
	TotalWorkTimeMs int64  `json:"totalWorkTime"`
	Timestamp       string `json:"timestamp"`
}

// PublishWorkCompleted implements coordinator.ReportPublisher.
func (o *Outbound) PublishWorkCompleted(ctx context.Context, report coordinator.CompletionReport) error {
	body := workCompletedBody{
		BlockIndex:  report.BlockIndex,
		PoolerID:    o.cfg.PoolerID,
		WorkResults: report.Results,
		Summary: summaryBody{
			TotalFarmers:    report.TotalFarmers,
			SuccessfulWork:  report.SuccessfulWork,
			FailedWork:      report.FailedWork,
			TotalWorkTimeMs: report.TotalWorkTimeMs,
			Timestamp:       report.Timestamp.UTC().Format(time.RFC3339),
		},
	}
	return o.post(ctx, "/pooler/work-completed", body, true)
}

func (o *Outbound) post(ctx context.Context, path string, body any, authenticated bool) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal notification body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BackendURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s/%s", o.cfg.ClientName, o.cfg.ClientVersion))
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+o.cfg.AuthToken)
		req.Header.Set("X-Pooler-ID", o.cfg.PoolerID)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		diag, _ := io.ReadAll(resp.Body)
		log.Warn("Backend notification rejected", "path", path, "status", resp.StatusCode, "body", string(diag))
		return fmt.Errorf("backend returned %d for %s", resp.StatusCode, path)
	}
	return nil
}
