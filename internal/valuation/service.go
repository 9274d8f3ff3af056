// Package valuation values a condo unit from comparable sales in the
// canonical store: comparable selection, a recency-weighted appreciation
// fit, and low/mid/high synthesis with a floor adjustment.
package valuation

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hartproperty/propsync/internal/benchmark"
	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/internal/store"
)

// ErrInvalidRequest is returned for requests failing validation.
var ErrInvalidRequest = eris.New("valuation: invalid request")

// Outcomes of a valuation.
const (
	OutcomeEstimate     = "estimate"
	OutcomeInsufficient = "insufficient_data"
)

// Repayment assumptions for the indicative mortgage range.
const (
	LoanToValue  = 0.75
	TenureMonths = 360
)

// Response messages.
const (
	MessageSent    = "Thank you! Your property valuation report will be sent to your email shortly."
	MessageLimited = "Thank you! We have limited transaction data for this property. Michael will personally review and send you a valuation within 24 hours."
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// BenchmarkSource supplies the current SORA snapshot.
type BenchmarkSource interface {
	Get(ctx context.Context) (*benchmark.Snapshot, error)
}

// Notifier delivers a finished valuation to the requester.
type Notifier interface {
	ValuationReady(ctx context.Context, req Request, res *Result) error
}

// Query identifies the unit to value.
type Query struct {
	CondoName string  `json:"condo_name"`
	Floor     int     `json:"floor"`
	Sqft      float64 `json:"sqft"`
}

// Repayment is the indicative monthly mortgage range.
type Repayment struct {
	Principal float64 `json:"principal"`
	Low       float64 `json:"low"`
	High      float64 `json:"high"`
}

// Result is a finished valuation. Estimate is nil when Outcome is
// OutcomeInsufficient.
type Result struct {
	Query
	Outcome          string              `json:"outcome"`
	FloorBand        FloorBand           `json:"floor_band"`
	AppreciationRate float64             `json:"appreciation_rate"`
	Estimate         *Estimate           `json:"estimate,omitempty"`
	Benchmark        *benchmark.Snapshot `json:"benchmark,omitempty"`
	Repayment        *Repayment          `json:"repayment,omitempty"`
}

// Request is a valuation request from the public form.
type Request struct {
	CondoName string  `json:"condo_name"`
	UnitLabel string  `json:"unit_label"`
	Sqft      float64 `json:"sqft"`
	Email     string  `json:"email"`
	Name      string  `json:"name,omitempty"`
}

// Response is what the requester sees. The valuation itself goes out by
// e-mail.
type Response struct {
	OK      bool    `json:"ok"`
	Message string  `json:"message"`
	Outcome string  `json:"outcome"`
	Result  *Result `json:"-"`
}

// UnitInfo is the size lookup for a unit label.
type UnitInfo struct {
	Floor int       `json:"floor"`
	Unit  *int      `json:"unit,omitempty"`
	Band  FloorBand `json:"floor_band"`
	Sqft  *float64  `json:"sqft,omitempty"`
	Exact bool      `json:"exact"`
}

// Option configures a Service.
type Option func(*Service)

// WithBenchmark attaches SORA snapshots to results.
func WithBenchmark(b BenchmarkSource) Option { return func(s *Service) { s.bench = b } }

// WithNotifier sends finished valuations.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithClock overrides the clock used for recency windows.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// Service answers valuation requests.
type Service struct {
	st       store.Valuations
	bench    BenchmarkSource
	notifier Notifier
	now      func() time.Time
	log      *zap.Logger
	wg       sync.WaitGroup
}

// NewService creates a Service over the store's read side.
func NewService(st store.Valuations, opts ...Option) *Service {
	s := &Service{st: st, now: time.Now, log: zap.L().With(zap.String("component", "valuation"))}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Value produces a valuation for q. A condo with no sale in the size band
// yields OutcomeInsufficient, not an error. Benchmark failures are logged
// and leave the snapshot off.
func (s *Service) Value(ctx context.Context, q Query) (*Result, error) {
	if strings.TrimSpace(q.CondoName) == "" || q.Sqft <= 0 || q.Floor <= 0 {
		return nil, eris.Wrap(ErrInvalidRequest, "condo, floor and positive sqft are required")
	}
	now := s.now()

	var sel *Selection
	var snap *benchmark.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sel, err = NewSelector(s.st, func() time.Time { return now }).Select(gctx, q.CondoName, q.Floor, q.Sqft)
		return err
	})
	if s.bench != nil {
		g.Go(func() error {
			got, err := s.bench.Get(gctx)
			if err != nil {
				s.log.Warn("benchmark unavailable", zap.Error(err))
				return nil
			}
			snap = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Query: q, FloorBand: sel.Band, Outcome: OutcomeInsufficient}
	if sel.Empty() {
		return res, nil
	}

	res.Outcome = OutcomeEstimate
	res.AppreciationRate = EstimateAppreciation(sel.AppreciationSet(now), now)
	est := Synthesize(sel, q.Floor, q.Sqft, res.AppreciationRate, now)
	res.Estimate = &est
	if snap != nil {
		res.Benchmark = snap
		principal := est.PriceMid * LoanToValue
		low, high := snap.RepaymentRange(principal, TenureMonths)
		res.Repayment = &Repayment{Principal: principal, Low: model.Round2(low), High: model.Round2(high)}
	}

	s.log.Info("valuation",
		zap.String("condo", q.CondoName),
		zap.Int("floor", q.Floor),
		zap.Float64("sqft", q.Sqft),
		zap.String("method", est.Method),
		zap.Float64("psf_mid", est.PSFMid),
		zap.Int("comparables", len(sel.Used())),
	)
	return res, nil
}

// Request validates a form submission, values the unit, records a lead
// and hands the result to the notifier in the background.
func (s *Service) Request(ctx context.Context, req Request) (*Response, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.CondoName = strings.TrimSpace(req.CondoName)
	req.UnitLabel = strings.TrimSpace(req.UnitLabel)
	if !emailRe.MatchString(req.Email) {
		return nil, eris.Wrap(ErrInvalidRequest, "a valid email is required")
	}
	if req.CondoName == "" || req.UnitLabel == "" || req.Sqft <= 0 {
		return nil, eris.Wrap(ErrInvalidRequest, "condo, unit and positive sqft are required")
	}
	floor, ok := ParseFloor(req.UnitLabel)
	if !ok {
		return nil, eris.Wrapf(ErrInvalidRequest, "unrecognised unit %q", req.UnitLabel)
	}

	res, err := s.Value(ctx, Query{CondoName: req.CondoName, Floor: floor, Sqft: req.Sqft})
	if err != nil {
		return nil, eris.Wrap(err, "valuation: request")
	}

	lead := model.Lead{
		ID:        uuid.NewString(),
		Email:     req.Email,
		CondoName: req.CondoName,
		UnitLabel: req.UnitLabel,
		Sqft:      req.Sqft,
		Outcome:   res.Outcome,
		CreatedAt: s.now().UTC(),
	}
	if err := s.st.InsertLead(ctx, lead); err != nil {
		s.log.Error("record lead", zap.String("condo", req.CondoName), zap.Error(err))
	}

	if res.Outcome == OutcomeInsufficient {
		return &Response{OK: true, Message: MessageLimited, Outcome: res.Outcome, Result: res}, nil
	}

	if s.notifier != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.notifier.ValuationReady(context.WithoutCancel(ctx), req, res); err != nil {
				s.log.Error("send valuation", zap.String("condo", req.CondoName), zap.Error(err))
			}
		}()
	}
	return &Response{OK: true, Message: MessageSent, Outcome: res.Outcome, Result: res}, nil
}

// Wait blocks until background notifications finish.
func (s *Service) Wait() { s.wg.Wait() }

// CondoNames lists every condo with stored sales.
func (s *Service) CondoNames(ctx context.Context) ([]string, error) {
	names, err := s.st.CondoNames(ctx)
	return names, eris.Wrap(err, "valuation: condo names")
}

// UnitInfo looks up the size of a unit. The latest sale of the exact
// floor/unit wins; without one, the floor's stored sales are used only when
// they agree on a single size. Sqft is nil otherwise.
func (s *Service) UnitInfo(ctx context.Context, condo, label string) (*UnitInfo, error) {
	floor, ok := ParseFloor(label)
	if strings.TrimSpace(condo) == "" || !ok {
		return nil, eris.Wrapf(ErrInvalidRequest, "unrecognised unit %q", label)
	}
	info := &UnitInfo{Floor: floor, Band: Band(floor)}

	if f, unit, ok := ParseUnitNumber(label); ok {
		info.Unit = model.Ptr(unit)
		sizes, err := s.st.UnitSqft(ctx, condo, f, unit)
		if err != nil {
			return nil, eris.Wrap(err, "valuation: unit sqft")
		}
		if len(sizes) > 0 {
			info.Sqft, info.Exact = model.Ptr(sizes[0]), true
			return info, nil
		}
	}

	sizes, err := s.st.FloorSqfts(ctx, condo, floor)
	if err != nil {
		return nil, eris.Wrap(err, "valuation: floor sqfts")
	}
	if len(sizes) == 1 {
		info.Sqft = model.Ptr(sizes[0])
	}
	return info, nil
}
