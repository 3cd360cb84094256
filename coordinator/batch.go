package coordinator

import (
	"time"

	"github.com/kale-pool/pooler/work"
)

// PlantingNotification is the Coordinator's normalized view of an inbound
// planting-completion notification, after alias-folding at the HTTP
// boundary.
type PlantingNotification struct {
	BlockIndex      uint32
	Entropy         string
	BlockTimestamp  int64
	PlantedFarmers  []work.PlantedFarmer
}

// CompletionReport is the aggregate the Coordinator POSTs to the Backend
// once a block's work batch finishes.
type CompletionReport struct {
	BlockIndex  uint32
	Results     []work.Result
	TotalFarmers int
	SuccessfulWork int
	FailedWork     int
	TotalWorkTimeMs int64
	Timestamp   time.Time
}

// summarize computes the CompletionReport's aggregate counters from its
// per-farmer results.
func summarize(blockIndex uint32, results []work.Result) CompletionReport {
	report := CompletionReport{
		BlockIndex:   blockIndex,
		Results:      results,
		TotalFarmers: len(results),
		Timestamp:    time.Now(),
	}
	for _, r := range results {
		report.TotalWorkTimeMs += r.WorkTimeMs
		if r.Status == work.StatusFailed {
			report.FailedWork++
		} else {
			report.SuccessfulWork++
		}
	}
	return report
}
