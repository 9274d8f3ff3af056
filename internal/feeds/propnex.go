package feeds

import (
	"context"
	"errors"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/internal/normalize"
	"github.com/hartproperty/propsync/internal/reconcile"
	"github.com/hartproperty/propsync/pkg/propnex"
)

// PropNexStore is what the PropNex feed writes outside the merge path.
type PropNexStore interface {
	UpsertProjects(ctx context.Context, projects []model.Project) (int64, error)
	UpsertRentals(ctx context.Context, rentals []model.Rental) (int64, error)
	ClearUnconfirmedUnits(ctx context.Context, projectID int64) (int64, error)
}

// PropNexFeed fetches one brokerage project per unit. After a project's
// sales are reconciled its metadata and rentals are upserted and the
// maintenance pass runs.
type PropNexFeed struct {
	client propnex.Client
	store  PropNexStore
}

// NewPropNexFeed creates a PropNex feed.
func NewPropNexFeed(client propnex.Client, st PropNexStore) *PropNexFeed {
	return &PropNexFeed{client: client, store: st}
}

// Source implements reconcile.Feed.
func (f *PropNexFeed) Source() model.Source { return model.SourceBrokerage }

// Fetch implements reconcile.Feed.
func (f *PropNexFeed) Fetch(ctx context.Context, unit string) (*reconcile.Batch, error) {
	id, err := strconv.Atoi(unit)
	if err != nil || id < 1 {
		return nil, eris.Errorf("feeds: invalid propnex project %q", unit)
	}
	resp, err := f.client.Project(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "feeds: propnex project %d", id)
	}
	if resp == nil {
		return &reconcile.Batch{}, nil
	}

	projectID := int64(id)
	return &reconcile.Batch{
		Result: normalize.PropNex(resp, projectID),
		Finish: func(ctx context.Context) error {
			return f.finish(ctx, resp, projectID)
		},
	}, nil
}

func (f *PropNexFeed) finish(ctx context.Context, resp *propnex.ProjectResponse, projectID int64) error {
	log := zap.L().With(zap.String("component", "feeds.propnex"), zap.Int64("project_id", projectID))
	var errs []error

	if p, ok := normalize.PropNexProject(resp, projectID); ok {
		if _, err := f.store.UpsertProjects(ctx, []model.Project{p}); err != nil {
			errs = append(errs, eris.Wrap(err, "feeds: upsert project"))
		}
	}
	if rentals := normalize.PropNexRentals(resp); len(rentals) > 0 {
		n, err := f.store.UpsertRentals(ctx, rentals)
		if err != nil {
			errs = append(errs, eris.Wrap(err, "feeds: upsert rentals"))
		} else {
			log.Debug("rentals upserted", zap.Int64("rows", n))
		}
	}
	cleared, err := f.store.ClearUnconfirmedUnits(ctx, projectID)
	if err != nil {
		errs = append(errs, eris.Wrap(err, "feeds: clear unconfirmed units"))
	} else if cleared > 0 {
		log.Info("cleared unconfirmed exact units", zap.Int64("rows", cleared))
	}
	return errors.Join(errs...)
}
