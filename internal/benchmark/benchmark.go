// Package benchmark serves the SORA benchmark rate snapshot attached to
// valuations. The page is slow and rate limited, so snapshots are kept in
// an injected TTL cache.
package benchmark

import (
	"context"
	"io"
	"math"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hartproperty/propsync/internal/fetcher"
)

// Snapshot holds compounded SORA rates in percent.
type Snapshot struct {
	OneMonth  float64    `json:"one_month"`
	SixMonth  float64    `json:"six_month"`
	AsAt      *time.Time `json:"as_at,omitempty"`
	FetchedAt time.Time  `json:"fetched_at"`
}

// Spreads over SORA used for the repayment range.
const (
	LowSpread  = 0.3
	HighSpread = 0.6
)

// MonthlyRepayment is the annuity payment on principal at an annual rate
// (decimal) over months.
func MonthlyRepayment(principal, annualRate float64, months int) float64 {
	if months <= 0 {
		return 0
	}
	r := annualRate / 12
	if r == 0 {
		return principal / float64(months)
	}
	f := math.Pow(1+r, float64(months))
	return principal * r * f / (f - 1)
}

// RepaymentRange returns the monthly repayment at 1M SORA plus LowSpread
// and at 6M SORA plus HighSpread, ordered low to high.
func (s *Snapshot) RepaymentRange(principal float64, months int) (low, high float64) {
	a := MonthlyRepayment(principal, (s.OneMonth+LowSpread)/100, months)
	b := MonthlyRepayment(principal, (s.SixMonth+HighSpread)/100, months)
	return math.Min(a, b), math.Max(a, b)
}

var (
	oneMonthRe = regexp.MustCompile(`(?i)<td[^>]*>\s*1\s*Mth\s*</td>\s*<td[^>]*>\s*([0-9]+(?:\.[0-9]+)?)\s*</td>`)
	sixMonthRe = regexp.MustCompile(`(?i)<td[^>]*>\s*6\s*Mth\s*</td>\s*<td[^>]*>\s*([0-9]+(?:\.[0-9]+)?)\s*</td>`)
	asAtRe     = regexp.MustCompile(`(?i)<td[^>]*>\s*As\s*at\s*</td>\s*<td[^>]*>\s*([0-9]{1,2}/[0-9]{1,2}/[0-9]{4})\s*</td>`)
)

// ParseSnapshot reads the rates table out of the page HTML. Both rates
// are required; the as-at date is optional.
func ParseSnapshot(html []byte) (*Snapshot, error) {
	one, err := rate(oneMonthRe, html)
	if err != nil {
		return nil, eris.Wrap(err, "benchmark: 1M SORA")
	}
	six, err := rate(sixMonthRe, html)
	if err != nil {
		return nil, eris.Wrap(err, "benchmark: 6M SORA")
	}
	s := &Snapshot{OneMonth: one, SixMonth: six}
	if m := asAtRe.FindSubmatch(html); m != nil {
		if d, err := time.ParseInLocation("2/1/2006", string(m[1]), time.UTC); err == nil {
			s.AsAt = &d
		}
	}
	return s, nil
}

func rate(re *regexp.Regexp, html []byte) (float64, error) {
	m := re.FindSubmatch(html)
	if m == nil {
		return 0, eris.New("not found")
	}
	return strconv.ParseFloat(string(m[1]), 64)
}

// Source produces a fresh snapshot.
type Source interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// maxPageBytes caps how much of the page is read.
const maxPageBytes = 4 << 20

// PageFetcher downloads and parses the rates page.
type PageFetcher struct {
	fetcher fetcher.Fetcher
	url     string
	timeout time.Duration
	now     func() time.Time
}

// NewPageFetcher creates a PageFetcher. A zero timeout means none.
func NewPageFetcher(f fetcher.Fetcher, url string, timeout time.Duration) *PageFetcher {
	return &PageFetcher{fetcher: f, url: url, timeout: timeout, now: time.Now}
}

// Fetch implements Source.
func (p *PageFetcher) Fetch(ctx context.Context) (*Snapshot, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	body, err := p.fetcher.Download(ctx, p.url)
	if err != nil {
		return nil, eris.Wrap(err, "benchmark: download")
	}
	defer body.Close() //nolint:errcheck

	html, err := io.ReadAll(io.LimitReader(body, maxPageBytes))
	if err != nil {
		return nil, eris.Wrap(err, "benchmark: read page")
	}
	s, err := ParseSnapshot(html)
	if err != nil {
		return nil, err
	}
	s.FetchedAt = p.now()
	return s, nil
}

// Cache is a read-through cache over a Source. An entry older than the
// TTL is refetched on the next Get; failed fetches are not cached.
// Concurrent misses may fetch redundantly and the last write wins.
type Cache struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	snapshot *Snapshot
	storedAt time.Time
}

// NewCache creates a Cache. A non-positive ttl defaults to six hours.
func NewCache(source Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Cache{source: source, ttl: ttl, now: time.Now}
}

// Get returns the cached snapshot, fetching when it is missing or stale.
func (c *Cache) Get(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	if c.snapshot != nil && c.now().Sub(c.storedAt) < c.ttl {
		s := *c.snapshot
		c.mu.Unlock()
		return &s, nil
	}
	c.mu.Unlock()

	s, err := c.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.snapshot = s
	c.storedAt = c.now()
	c.mu.Unlock()

	zap.L().Info("benchmark snapshot refreshed",
		zap.Float64("one_month", s.OneMonth),
		zap.Float64("six_month", s.SixMonth),
	)
	out := *s
	return &out, nil
}

// Invalidate drops the cached snapshot.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = nil
}
