// Package market summarises a condo's recent price-per-sqft movement.
package market

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hartproperty/propsync/internal/model"
)

// BucketWidth is the span of one trend bucket, counted back from now.
const BucketWidth = 30 * 24 * time.Hour

// Period labels.
const (
	LabelLast30 = "Last 30 days"
	LabelLatest = "Latest period"
)

// Trend compares the latest bucket of sales to the one before it.
// PreviousAvgPSF and PercentChange are nil when there is no earlier
// bucket.
type Trend struct {
	CondoName      string   `json:"condo_name"`
	CurrentAvgPSF  float64  `json:"current_avg_psf"`
	PreviousAvgPSF *float64 `json:"previous_avg_psf"`
	PercentChange  *float64 `json:"percent_change"`
	PeriodLabel    string   `json:"period_label"`
}

// Compute buckets rows into BucketWidth windows ending at now and compares
// the newest non-empty bucket with the next older non-empty one. It returns
// nil when no row has a price per sqft. Future-dated rows are ignored.
func Compute(condo string, rows []model.Transaction, now time.Time) *Trend {
	buckets := map[int][]float64{}
	current, previous := -1, -1
	for i := range rows {
		psf, ok := rows[i].PSF()
		if !ok {
			continue
		}
		diff := now.Sub(rows[i].SaleDate)
		if diff < 0 {
			continue
		}
		idx := int(diff / BucketWidth)
		buckets[idx] = append(buckets[idx], psf)
		if current == -1 || idx < current {
			current = idx
		}
	}
	if current == -1 {
		return nil
	}
	for idx := range buckets {
		if idx > current && (previous == -1 || idx < previous) {
			previous = idx
		}
	}

	cur := mean(buckets[current])
	t := &Trend{CondoName: condo, CurrentAvgPSF: math.Round(cur), PeriodLabel: LabelLatest}
	if current == 0 {
		t.PeriodLabel = LabelLast30
	}
	if previous != -1 {
		prev := mean(buckets[previous])
		t.PreviousAvgPSF = model.Ptr(math.Round(prev))
		if prev > 0 {
			t.PercentChange = model.Ptr(math.Round((cur-prev)/prev*1000) / 10)
		}
	}
	return t
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// Source lists a condo's stored sales.
type Source interface {
	TransactionsForCondo(ctx context.Context, condo string) ([]model.Transaction, error)
}

// Service serves trends from the store.
type Service struct {
	src Source
	now func() time.Time
}

// NewService creates a Service. A nil now uses time.Now.
func NewService(src Source, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{src: src, now: now}
}

// Trend returns the trend for condo, or nil when it has no priced sales.
func (s *Service) Trend(ctx context.Context, condo string) (*Trend, error) {
	rows, err := s.src.TransactionsForCondo(ctx, condo)
	if err != nil {
		return nil, eris.Wrap(err, "market: transactions")
	}
	return Compute(condo, rows, s.now()), nil
}
