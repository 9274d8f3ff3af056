package feeds

import (
	"context"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/hartproperty/propsync/internal/identity"
	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/internal/normalize"
	"github.com/hartproperty/propsync/internal/reconcile"
	"github.com/hartproperty/propsync/pkg/ura"
)

// URAFeed fetches URA result batches. Units are batch numbers. The daily
// token is requested on the first fetch and reused for the run.
type URAFeed struct {
	client ura.Client
	names  NameResolver

	mu    sync.Mutex
	token string
}

// NewURAFeed creates a URA feed.
func NewURAFeed(client ura.Client, names NameResolver) *URAFeed {
	return &URAFeed{client: client, names: names}
}

// Source implements reconcile.Feed.
func (f *URAFeed) Source() model.Source { return model.SourceGovernment }

// Fetch implements reconcile.Feed.
func (f *URAFeed) Fetch(ctx context.Context, unit string) (*reconcile.Batch, error) {
	batch, err := strconv.Atoi(unit)
	if err != nil || batch < 1 {
		return nil, eris.Errorf("feeds: invalid ura batch %q", unit)
	}

	token, err := f.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	projects, err := f.client.Batch(ctx, token, batch)
	if err != nil {
		return nil, eris.Wrapf(err, "feeds: ura batch %d", batch)
	}

	seen := make(map[string]bool)
	var normalized []string
	for _, p := range projects {
		n := identity.NormalizeName(p.Project)
		if n != "" && !seen[n] {
			seen[n] = true
			normalized = append(normalized, n)
		}
	}
	names := map[string]string{}
	if len(normalized) > 0 && f.names != nil {
		if names, err = f.names.CanonicalNames(ctx, normalized); err != nil {
			return nil, eris.Wrap(err, "feeds: canonical names")
		}
	}

	return &reconcile.Batch{Result: normalize.URA(projects, names)}, nil
}

func (f *URAFeed) accessToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token != "" {
		return f.token, nil
	}
	token, err := f.client.Token(ctx)
	if err != nil {
		return "", eris.Wrap(err, "feeds: ura token")
	}
	f.token = token
	return token, nil
}
