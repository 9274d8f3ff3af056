package feeds

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/internal/normalize"
	"github.com/hartproperty/propsync/internal/ocr"
	"github.com/hartproperty/propsync/internal/reconcile"
)

// AuditEntry is one line of the OCR import audit: an accepted candidate
// or a dropped row, tagged with the image it came from.
type AuditEntry struct {
	Image       string
	Accepted    bool
	Transaction *model.Transaction
	Drop        *normalize.Drop
}

// OCRFeed reconciles screenshots of one condo's transaction table. Units
// are image paths.
type OCRFeed struct {
	extractor   ocr.Extractor
	lookup      normalize.PriorSaleLookup
	condo       string
	concurrency int

	mu    sync.Mutex
	cache map[string][]normalize.VisionRow
	audit []AuditEntry
}

// NewOCRFeed creates an OCR feed for condo.
func NewOCRFeed(extractor ocr.Extractor, lookup normalize.PriorSaleLookup, condo string, concurrency int) *OCRFeed {
	if concurrency < 1 {
		concurrency = 1
	}
	return &OCRFeed{
		extractor:   extractor,
		lookup:      lookup,
		condo:       condo,
		concurrency: concurrency,
		cache:       make(map[string][]normalize.VisionRow),
	}
}

// ImageUnits lists the supported images directly inside dir, sorted.
func ImageUnits(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "feeds: read dir %s", dir)
	}
	var units []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := ocr.MediaType(e.Name()); ok {
			units = append(units, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(units)
	return units, nil
}

// Prefetch extracts every image with bounded parallelism. Successful
// extractions are cached for Fetch; failures are left for Fetch to retry
// under the driver's retry policy.
func (f *OCRFeed) Prefetch(ctx context.Context, images []string) {
	log := zap.L().With(zap.String("component", "feeds.ocr"))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for _, img := range images {
		g.Go(func() error {
			rows, err := f.extractor.Extract(gctx, img)
			if err != nil {
				log.Warn("prefetch failed", zap.String("image", img), zap.Error(err))
				return nil
			}
			f.mu.Lock()
			f.cache[img] = rows
			f.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// Source implements reconcile.Feed.
func (f *OCRFeed) Source() model.Source { return model.SourceOCR }

// Fetch implements reconcile.Feed.
func (f *OCRFeed) Fetch(ctx context.Context, unit string) (*reconcile.Batch, error) {
	f.mu.Lock()
	rows, ok := f.cache[unit]
	f.mu.Unlock()
	if !ok {
		var err error
		if rows, err = f.extractor.Extract(ctx, unit); err != nil {
			return nil, err
		}
	}

	res, err := normalize.OCR(ctx, f.lookup, f.condo, rows)
	if err != nil {
		return nil, eris.Wrapf(err, "feeds: normalize %s", filepath.Base(unit))
	}

	f.mu.Lock()
	image := filepath.Base(unit)
	for i := range res.Candidates {
		t := res.Candidates[i]
		f.audit = append(f.audit, AuditEntry{Image: image, Accepted: true, Transaction: &t})
	}
	for i := range res.Drops {
		d := res.Drops[i]
		f.audit = append(f.audit, AuditEntry{Image: image, Drop: &d})
	}
	f.mu.Unlock()

	return &reconcile.Batch{Result: res}, nil
}

// Audit returns the entries recorded so far.
func (f *OCRFeed) Audit() []AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.audit)
}
