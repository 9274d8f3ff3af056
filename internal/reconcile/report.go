package reconcile

import (
	"time"

	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/internal/normalize"
)

// Report summarises one run. It is stored as the run's report JSON.
type Report struct {
	Source       model.Source             `json:"source"`
	UnitsPlanned int                      `json:"units_planned"`
	Units        int                      `json:"units"`
	FailedUnits  []string                 `json:"failed_units,omitempty"`
	Candidates   int                      `json:"candidates"`
	Dropped      int                      `json:"dropped"`
	DropReasons  map[normalize.Reason]int `json:"drop_reasons,omitempty"`
	Inserted     int                      `json:"inserted"`
	Updated      int                      `json:"updated"`
	RowsUpdated  int64                    `json:"rows_updated"`
	Skipped      int                      `json:"skipped"`
	// Unresolved counts candidates left out because their stored rows
	// could not be read.
	Unresolved   int           `json:"unresolved"`
	FailedChunks int           `json:"failed_chunks"`
	Aborted      bool          `json:"aborted"`
	Error        string        `json:"error,omitempty"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

func newReport(source model.Source, planned int) *Report {
	return &Report{
		Source:       source,
		UnitsPlanned: planned,
		DropReasons:  make(map[normalize.Reason]int),
	}
}

func (r *Report) failUnit(unit string) {
	r.FailedUnits = append(r.FailedUnits, unit)
}

func (r *Report) addDrops(drops []normalize.Drop) {
	for _, d := range drops {
		r.Dropped++
		r.DropReasons[d.Reason]++
	}
}

func (r *Report) finish(start time.Time) {
	r.Elapsed = time.Since(start)
}
