package feeds

import (
	"context"
	"errors"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/internal/normalize"
	"github.com/hartproperty/propsync/internal/reconcile"
)

// AdminStore is the row-level access manual patches with an id need.
type AdminStore interface {
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	SaveTransaction(ctx context.Context, t model.Transaction) error
}

// ManualFeed applies YAML patch files. Units are file paths. A patch
// without an id becomes a manual candidate and goes through the merge; a
// patch with an id edits that row directly once the candidates are in.
type ManualFeed struct {
	store AdminStore
}

// NewManualFeed creates a manual feed.
func NewManualFeed(st AdminStore) *ManualFeed {
	return &ManualFeed{store: st}
}

// LoadPatches reads a YAML file holding a list of patches.
func LoadPatches(path string) ([]normalize.Patch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "feeds: read %s", path)
	}
	var patches []normalize.Patch
	if err := yaml.Unmarshal(data, &patches); err != nil {
		return nil, eris.Wrapf(err, "feeds: parse %s", path)
	}
	return patches, nil
}

// Source implements reconcile.Feed.
func (f *ManualFeed) Source() model.Source { return model.SourceManual }

// Fetch implements reconcile.Feed.
func (f *ManualFeed) Fetch(_ context.Context, unit string) (*reconcile.Batch, error) {
	patches, err := LoadPatches(unit)
	if err != nil {
		return nil, err
	}
	return f.batch(patches), nil
}

// Inline returns a feed serving patches already in memory. Any unit name
// yields the same batch.
func (f *ManualFeed) Inline(patches []normalize.Patch) reconcile.Feed {
	return &inlineFeed{manual: f, patches: patches}
}

type inlineFeed struct {
	manual  *ManualFeed
	patches []normalize.Patch
}

func (i *inlineFeed) Source() model.Source { return model.SourceManual }

func (i *inlineFeed) Fetch(context.Context, string) (*reconcile.Batch, error) {
	return i.manual.batch(i.patches), nil
}

func (f *ManualFeed) batch(patches []normalize.Patch) *reconcile.Batch {
	var res normalize.Result
	var edits []normalize.Patch
	for _, p := range patches {
		if p.ID != nil && *p.ID != "" {
			edits = append(edits, p)
			continue
		}
		t, err := normalize.Manual(p)
		if err != nil {
			res.Drops = append(res.Drops, normalize.Drop{
				Source: model.SourceManual,
				Reason: normalize.ReasonInvalidField,
				Detail: err.Error(),
			})
			continue
		}
		res.Candidates = append(res.Candidates, t)
	}

	batch := &reconcile.Batch{Result: res}
	if len(edits) > 0 {
		batch.Finish = func(ctx context.Context) error {
			return f.applyEdits(ctx, edits)
		}
	}
	return batch
}

func (f *ManualFeed) applyEdits(ctx context.Context, edits []normalize.Patch) error {
	log := zap.L().With(zap.String("component", "feeds.manual"))
	var errs []error
	for _, p := range edits {
		id := *p.ID
		if err := Edit(ctx, f.store, p); err != nil {
			errs = append(errs, eris.Wrapf(err, "feeds: patch %s", id))
			continue
		}
		log.Info("patched transaction", zap.String("id", id))
	}
	return errors.Join(errs...)
}

// Edit overlays p onto the stored row it names and saves the result.
func Edit(ctx context.Context, st AdminStore, p normalize.Patch) error {
	if p.ID == nil || *p.ID == "" {
		return eris.Wrap(normalize.ErrInvalidPatch, "feeds: id required")
	}
	existing, err := st.GetTransaction(ctx, *p.ID)
	if err != nil {
		return err
	}
	updated, err := normalize.ApplyPatch(*existing, p)
	if err != nil {
		return err
	}
	return st.SaveTransaction(ctx, updated)
}
