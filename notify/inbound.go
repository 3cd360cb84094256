package notify

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/kale-pool/pooler/coordinator"
	"github.com/kale-pool/pooler/monitor"
	"github.com/kale-pool/pooler/work"
)

// Scheduler is the subset of the Coordinator the inbound handlers drive.
type Scheduler interface {
	ReceivePlantingNotification(n coordinator.PlantingNotification)
}

// Inbound serves the Backend-facing endpoints: planting-status,
// planted-farmers, health, and status.
type Inbound struct {
	coordinator   Scheduler
	authToken     string
	monitor       MonitorView
	maxErrorCount int
}

// MonitorView is the subset of *monitor.Monitor the health/status endpoints
// need.
type MonitorView interface {
	State() monitor.State
	Cursor() uint32
	Stats() *monitor.Stats
}

// NewInbound builds an Inbound handler set.
func NewInbound(coord Scheduler, authToken string, mon MonitorView, maxErrorCount int) *Inbound {
	return &Inbound{coordinator: coord, authToken: authToken, monitor: mon, maxErrorCount: maxErrorCount}
}

// plantedFarmerWire is the wire shape of one PlantedFarmer, accepting both
// snake_case and camelCase field spellings.
type plantedFarmerWire struct {
	FarmerID           string `json:"farmerId"`
	FarmerIDSnake      string `json:"farmer_id"`
	CustodialWallet    string `json:"custodialWallet"`
	CustodialWalletSnake string `json:"custodial_wallet"`
	CustodialSecretKey string `json:"custodialSecretKey"`
	CustodialSecretKeySnake string `json:"custodial_secret_key"`
	StakeAmount        string `json:"stakeAmount"`
	StakeAmountSnake   string `json:"stake_amount"`
	PlantingTime       string `json:"plantingTime"`
	PlantingTimeSnake  string `json:"planting_time"`
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (w plantedFarmerWire) normalize() work.PlantedFarmer {
	return work.PlantedFarmer{
		FarmerID:           coalesce(w.FarmerID, w.FarmerIDSnake),
		CustodialWallet:    coalesce(w.CustodialWallet, w.CustodialWalletSnake),
		CustodialSecretKey: coalesce(w.CustodialSecretKey, w.CustodialSecretKeySnake),
		StakeAmount:        coalesce(w.StakeAmount, w.StakeAmountSnake),
	}
}

// plantingStatusWire is the dynamic-typed inbound body: every field is
// accepted in both spellings and folded into one normalized struct at
// decode time rather than branching on which variant arrived.
type plantingStatusWire struct {
	BlockIndex       json.Number `json:"blockIndex"`
	BlockIndexSnake  json.Number `json:"block_index"`
	PoolerID         string      `json:"poolerId"`
	PoolerIDSnake    string      `json:"pooler_id"`
	SuccessfulPlants json.Number `json:"successfulPlants"`
	SuccessfulPlantsSnake json.Number `json:"successful_plants"`
	FailedPlants     json.Number `json:"failedPlants"`
	FailedPlantsSnake json.Number `json:"failed_plants"`
	PlantedFarmers   []plantedFarmerWire `json:"plantedFarmers"`
	PlantedFarmersSnake []plantedFarmerWire `json:"planted_farmers"`
	BlockData        *blockDataWire `json:"blockData"`
	BlockDataSnake    *blockDataWire `json:"block_data"`
	BlockTimestamp    json.Number `json:"blockTimestamp"`
	BlockTimestampSnake json.Number `json:"block_timestamp"`
}

type blockDataWire struct {
	Entropy string `json:"entropy"`
}

// HandlePlantingStatus implements POST /backend/planting-status.
func (h *Inbound) HandlePlantingStatus(w http.ResponseWriter, r *http.Request) {
	var wire plantingStatusWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		log.Warn("Malformed planting-status body", "err", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	blockIndexStr := coalesce(wire.BlockIndex.String(), wire.BlockIndexSnake.String())
	blockIndex, err := strconv.ParseUint(blockIndexStr, 10, 32)
	if err != nil {
		log.Warn("Invalid planting-status blockIndex", "raw", blockIndexStr)
		w.WriteHeader(http.StatusOK)
		return
	}

	farmers := wire.PlantedFarmers
	if len(farmers) == 0 {
		farmers = wire.PlantedFarmersSnake
	}
	blockData := wire.BlockData
	if blockData == nil {
		blockData = wire.BlockDataSnake
	}

	if len(farmers) == 0 || blockData == nil || blockData.Entropy == "" {
		log.Info("Planting-status notification carries no schedulable work", "block", blockIndex)
		w.WriteHeader(http.StatusOK)
		return
	}

	normalized := make([]work.PlantedFarmer, 0, len(farmers))
	for _, f := range farmers {
		normalized = append(normalized, f.normalize())
	}

	blockTimestampStr := coalesce(wire.BlockTimestamp.String(), wire.BlockTimestampSnake.String())
	blockTimestamp, _ := strconv.ParseInt(blockTimestampStr, 10, 64)

	h.coordinator.ReceivePlantingNotification(coordinator.PlantingNotification{
		BlockIndex:     uint32(blockIndex),
		Entropy:        blockData.Entropy,
		BlockTimestamp: blockTimestamp,
		PlantedFarmers: normalized,
	})
	w.WriteHeader(http.StatusOK)
}

// plantedFarmersWire is the direct-PlantingNotification body for
// POST /backend/planted-farmers.
type plantedFarmersWire struct {
	BlockIndex     uint32              `json:"blockIndex"`
	Entropy        string              `json:"entropy"`
	BlockTimestamp int64               `json:"blockTimestamp"`
	PlantedFarmers []plantedFarmerWire `json:"plantedFarmers"`
}

// HandlePlantedFarmers implements POST /backend/planted-farmers.
func (h *Inbound) HandlePlantedFarmers(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var wire plantedFarmersWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if len(wire.PlantedFarmers) == 0 {
		http.Error(w, "plantedFarmers must be non-empty", http.StatusBadRequest)
		return
	}

	normalized := make([]work.PlantedFarmer, 0, len(wire.PlantedFarmers))
	for _, f := range wire.PlantedFarmers {
		normalized = append(normalized, f.normalize())
	}

	h.coordinator.ReceivePlantingNotification(coordinator.PlantingNotification{
		BlockIndex:     wire.BlockIndex,
		Entropy:        wire.Entropy,
		BlockTimestamp: wire.BlockTimestamp,
		PlantedFarmers: normalized,
	})
	w.WriteHeader(http.StatusOK)
}

func (h *Inbound) authorized(r *http.Request) bool {
	got := r.Header.Get("Authorization")
	return got == "Bearer "+h.authToken
}

// HandleHealth implements GET /health: 200 iff the monitor is running and
// its consecutive-error count has not reached the configured ceiling.
func (h *Inbound) HandleHealth(w http.ResponseWriter, r *http.Request) {
	state := h.monitor.State()
	snap := h.monitor.Stats().Snapshot(time.Now())
	healthy := state == monitor.StateRunning && snap.ConsecutiveErrorCount < h.maxErrorCount

	body := map[string]any{
		"status":                state.String(),
		"cursor":                h.monitor.Cursor(),
		"consecutiveErrorCount": snap.ConsecutiveErrorCount,
		"uptimeMs":              snap.UptimeMs,
	}
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
