// Package store persists canonical transactions and the ingestion
// bookkeeping around them. Postgres is the production backend; SQLite
// serves local runs and integration tests.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hartproperty/propsync/internal/identity"
	"github.com/hartproperty/propsync/internal/model"
)

// ErrNotFound is returned when a row looked up by id does not exist.
var ErrNotFound = eris.New("store: not found")

// ListFilter narrows transaction listings.
type ListFilter struct {
	Condo  string       `json:"condo,omitempty"`
	Source model.Source `json:"source,omitempty"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset,omitempty"`
}

// ComparableQuery selects a condo's sales within a size band.
type ComparableQuery struct {
	Condo   string
	MinSqft float64
	MaxSqft float64
}

// Transactions is the canonical row store the reconciliation driver
// writes through.
type Transactions interface {
	// FindByCoarseKeys returns every stored row sharing one of keys.
	FindByCoarseKeys(ctx context.Context, keys []identity.CoarseKey) ([]model.Transaction, error)
	// UpsertExact inserts rows with exact floor/unit, filling nulls on a
	// precise-key conflict.
	UpsertExact(ctx context.Context, rows []model.Transaction) (int64, error)
	// InsertRange inserts rows with no exact floor/unit.
	InsertRange(ctx context.Context, rows []model.Transaction) (int64, error)
	// FillNulls fills null columns of the rows in ids from row. Exact
	// floor/unit are only filled on exactID.
	FillNulls(ctx context.Context, ids []string, row model.Transaction, exactID string) (int64, error)
	// ClearUnconfirmedUnits drops exact floor/unit from every row of a
	// brokerage project that still has no purchase price.
	ClearUnconfirmedUnits(ctx context.Context, projectID int64) (int64, error)
	// PriorSale returns the latest sale of an exact unit before a date, or
	// nil.
	PriorSale(ctx context.Context, condoNormalized string, level, unit int, before time.Time) (*model.Transaction, error)
	// CanonicalNames maps normalized names to their stored display name.
	CanonicalNames(ctx context.Context, normalized []string) (map[string]string, error)
}

// Admin is row-level access for the admin surface.
type Admin interface {
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	SaveTransaction(ctx context.Context, t model.Transaction) error
	ListTransactions(ctx context.Context, f ListFilter) ([]model.Transaction, error)
}

// Valuations is the read side used by the valuation service.
type Valuations interface {
	Comparables(ctx context.Context, q ComparableQuery) ([]model.Transaction, error)
	CondoNames(ctx context.Context) ([]string, error)
	// UnitSqft returns the sizes recorded for one exact unit, latest sale first.
	UnitSqft(ctx context.Context, condo string, level, unit int) ([]float64, error)
	FloorSqfts(ctx context.Context, condo string, level int) ([]float64, error)
	TransactionsForCondo(ctx context.Context, condo string) ([]model.Transaction, error)
	InsertLead(ctx context.Context, l model.Lead) error
}

// Brokerage stores brokerage project metadata and rentals.
type Brokerage interface {
	UpsertProjects(ctx context.Context, projects []model.Project) (int64, error)
	UpsertRentals(ctx context.Context, rentals []model.Rental) (int64, error)
}

// RunLog records ingestion runs.
type RunLog interface {
	StartRun(ctx context.Context, source model.Source) (int64, error)
	CompleteRun(ctx context.Context, id int64, report any) error
	FailRun(ctx context.Context, id int64, msg string) error
	ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error)
}

// Missing tracks units of work whose fetch failed.
type Missing interface {
	RecordMissing(ctx context.Context, m model.MissingUnit) error
	ListMissing(ctx context.Context, source model.Source) ([]model.MissingUnit, error)
	ResolveMissing(ctx context.Context, source model.Source, unit string) error
}

// Store is the full persistence surface.
type Store interface {
	Transactions
	Admin
	Valuations
	Brokerage
	RunLog
	Missing

	Migrate(ctx context.Context) error
	Close() error
}

// txColumns is the column order shared by every transaction read and write.
var txColumns = []string{
	"id", "condo_name", "condo_name_normalized", "sale_date", "sale_price", "sale_month",
	"exact_level", "exact_unit", "level_low", "level_high",
	"sqft", "unit_type", "property_type", "sale_type",
	"purchase_price", "purchase_date", "profit", "annualised_pct",
	"source", "brokerage_project_id", "created_at",
}

// fillColumns are the columns a merge may fill, in FillNulls argument order.
var fillColumns = []string{
	"level_low", "level_high", "sqft", "unit_type", "property_type", "sale_type",
	"purchase_price", "purchase_date", "profit", "annualised_pct", "brokerage_project_id",
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 || n > 1000 {
		return defaultListLimit
	}
	return n
}
