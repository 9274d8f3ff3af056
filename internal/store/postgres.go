package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hartproperty/propsync/internal/db"
	"github.com/hartproperty/propsync/internal/identity"
	"github.com/hartproperty/propsync/internal/model"
)

// findPageSize bounds each keyset page when reading rows by coarse key.
const findPageSize = 1000

// migrationLockID serialises concurrent migration runs.
const migrationLockID = 4_242_001

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns its lifetime.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded Postgres migrations not yet recorded in
// schema_migrations, under an advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("postgres: release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	files, err := migrations("postgres")
	if err != nil {
		return err
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, m := range files {
		if applied[m.name] {
			continue
		}
		log.Info("applying migration", zap.String("file", m.name))
		if _, err := s.pool.Exec(ctx, m.sql); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", m.name)
		}
		if _, err := s.pool.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", m.name); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", m.name)
		}
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func selectColumns(prefix string) string {
	cols := make([]string, len(txColumns))
	for i, c := range txColumns {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}

func scanPostgresTx(row scannable) (model.Transaction, error) {
	var t model.Transaction
	var source string
	err := row.Scan(
		&t.ID, &t.CondoName, &t.CondoNameNormalized, &t.SaleDate, &t.SalePrice, &t.SaleMonth,
		&t.ExactLevel, &t.ExactUnit, &t.LevelLow, &t.LevelHigh,
		&t.Sqft, &t.UnitType, &t.PropertyType, &t.SaleType,
		&t.PurchasePrice, &t.PurchaseDate, &t.Profit, &t.AnnualisedPct,
		&source, &t.BrokerageProjectID, &t.CreatedAt,
	)
	t.Source = model.Source(source)
	return t, err
}

func (s *PostgresStore) queryTxs(ctx context.Context, op, sql string, args ...any) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanPostgresTx(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s: scan", op)
		}
		out = append(out, t)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s", op)
}

// txValues returns t in txColumns order. New rows without an id or
// creation time get one here.
func txValues(t *model.Transaction, now time.Time) []any {
	id := t.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = now
	}
	return []any{
		id, t.CondoName, t.CondoNameNormalized, t.SaleDate, t.SalePrice, t.SaleMonth,
		t.ExactLevel, t.ExactUnit, t.LevelLow, t.LevelHigh,
		t.Sqft, t.UnitType, t.PropertyType, t.SaleType,
		t.PurchasePrice, t.PurchaseDate, t.Profit, t.AnnualisedPct,
		string(t.Source), t.BrokerageProjectID, created,
	}
}

// fillValues returns the fill arguments of row in fillColumns order.
func fillValues(row *model.Transaction, date func(*time.Time) any) []any {
	return []any{
		row.LevelLow, row.LevelHigh, row.Sqft, row.UnitType, row.PropertyType, row.SaleType,
		row.PurchasePrice, date(row.PurchaseDate), row.Profit, row.AnnualisedPct, row.BrokerageProjectID,
	}
}

// fillNullsSQL builds the fill-only UPDATE. ph renders the n-th
// placeholder; idMatch is the WHERE clause selecting the target ids. The
// exact id is argument 1 and the exact level/unit arguments 2 and 3.
func fillNullsSQL(ph func(int) string, idMatch string) string {
	sets := []string{
		fmt.Sprintf("exact_level = CASE WHEN id = %s THEN COALESCE(exact_level, %s) ELSE exact_level END", ph(1), ph(2)),
		fmt.Sprintf("exact_unit = CASE WHEN id = %s THEN COALESCE(exact_unit, %s) ELSE exact_unit END", ph(1), ph(3)),
	}
	for i, c := range fillColumns {
		sets = append(sets, fmt.Sprintf("%s = COALESCE(%s, %s)", c, c, ph(i+4)))
	}
	return "UPDATE sale_transactions SET " + strings.Join(sets, ", ") + " WHERE " + idMatch
}

func pgPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func pgDate(d *time.Time) any { return d }

// FindByCoarseKeys joins the keys as arrays and pages through matches by id.
func (s *PostgresStore) FindByCoarseKeys(ctx context.Context, keys []identity.CoarseKey) ([]model.Transaction, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	seen := make(map[identity.CoarseKey]bool, len(keys))
	var names []string
	var prices []float64
	var months []int32
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		names = append(names, k.Name)
		prices = append(prices, k.Price)
		months = append(months, int32(k.Month))
	}

	query := `SELECT ` + selectColumns("t.") + `
		FROM sale_transactions t
		JOIN unnest($1::text[], $2::float8[], $3::int[]) AS k(name, price, month)
		  ON t.condo_name_normalized = k.name AND t.sale_price = k.price AND t.sale_month = k.month
		WHERE t.id > $4
		ORDER BY t.id
		LIMIT $5`

	var out []model.Transaction
	after := ""
	for {
		page, err := s.queryTxs(ctx, "find by coarse keys", query, names, prices, months, after, findPageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < findPageSize {
			return out, nil
		}
		after = page[len(page)-1].ID
	}
}

var preciseKey = []string{"condo_name_normalized", "sale_price", "sale_month", "exact_level", "exact_unit"}

// UpsertExact bulk-inserts exact rows; a precise-key conflict fills nulls
// on the stored row and never overwrites a value.
func (s *PostgresStore) UpsertExact(ctx context.Context, rows []model.Transaction) (int64, error) {
	now := time.Now().UTC()
	vals := make([][]any, len(rows))
	for i := range rows {
		vals[i] = txValues(&rows[i], now)
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "sale_transactions",
		Columns:      txColumns,
		ConflictKeys: preciseKey,
		UpdateCols:   fillColumns,
		FillOnly:     true,
	}, vals)
	return n, eris.Wrap(err, "postgres: upsert exact")
}

// InsertRange copies range-only rows; no unique index constrains them.
func (s *PostgresStore) InsertRange(ctx context.Context, rows []model.Transaction) (int64, error) {
	now := time.Now().UTC()
	vals := make([][]any, len(rows))
	for i := range rows {
		vals[i] = txValues(&rows[i], now)
	}
	n, err := db.CopyFrom(ctx, s.pool, "sale_transactions", txColumns, vals)
	return n, eris.Wrap(err, "postgres: insert range")
}

func (s *PostgresStore) FillNulls(ctx context.Context, ids []string, row model.Transaction, exactID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{exactID, row.ExactLevel, row.ExactUnit}
	args = append(args, fillValues(&row, pgDate)...)
	args = append(args, ids)
	sql := fillNullsSQL(pgPlaceholder, fmt.Sprintf("id = ANY(%s)", pgPlaceholder(len(args))))

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: fill nulls for %d rows", len(ids))
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ClearUnconfirmedUnits(ctx context.Context, projectID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sale_transactions SET exact_level = NULL, exact_unit = NULL
		 WHERE brokerage_project_id = $1 AND purchase_price IS NULL
		   AND exact_unit IS NOT NULL`,
		projectID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: clear unconfirmed units for project %d", projectID)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) PriorSale(ctx context.Context, condoNormalized string, level, unit int, before time.Time) (*model.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns("")+` FROM sale_transactions
		 WHERE condo_name_normalized = $1 AND exact_level = $2 AND exact_unit = $3 AND sale_date < $4
		 ORDER BY sale_date DESC LIMIT 1`,
		condoNormalized, level, unit, before,
	)
	t, err := scanPostgresTx(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: prior sale")
	}
	return &t, nil
}

func (s *PostgresStore) CanonicalNames(ctx context.Context, normalized []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(normalized) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (condo_name_normalized) condo_name_normalized, condo_name
		 FROM sale_transactions WHERE condo_name_normalized = ANY($1)
		 ORDER BY condo_name_normalized, created_at`,
		normalized,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: canonical names")
	}
	defer rows.Close()
	for rows.Next() {
		var key, name string
		if err := rows.Scan(&key, &name); err != nil {
			return nil, eris.Wrap(err, "postgres: canonical names: scan")
		}
		out[key] = name
	}
	return out, eris.Wrap(rows.Err(), "postgres: canonical names")
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns("")+` FROM sale_transactions WHERE id = $1`, id)
	t, err := scanPostgresTx(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get transaction %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get transaction %s", id)
	}
	return &t, nil
}

// SaveTransaction overwrites every mutable column of an existing row.
func (s *PostgresStore) SaveTransaction(ctx context.Context, t model.Transaction) error {
	vals := txValues(&t, time.Now().UTC())
	sets := make([]string, 0, len(txColumns)-2)
	for i, c := range txColumns[1 : len(txColumns)-1] {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+2))
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE sale_transactions SET "+strings.Join(sets, ", ")+" WHERE id = $1",
		vals[:len(vals)-1]...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save transaction %s", t.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: save transaction %s", t.ID)
	}
	return nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, f ListFilter) ([]model.Transaction, error) {
	query := `SELECT ` + selectColumns("") + ` FROM sale_transactions WHERE 1=1`
	var args []any
	if f.Condo != "" {
		args = append(args, identity.NormalizeName(f.Condo))
		query += fmt.Sprintf(" AND condo_name_normalized = $%d", len(args))
	}
	if f.Source != "" {
		args = append(args, string(f.Source))
		query += fmt.Sprintf(" AND source = $%d", len(args))
	}
	args = append(args, listLimit(f.Limit), max(f.Offset, 0))
	query += fmt.Sprintf(" ORDER BY sale_date DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return s.queryTxs(ctx, "list transactions", query, args...)
}

func (s *PostgresStore) Comparables(ctx context.Context, q ComparableQuery) ([]model.Transaction, error) {
	return s.queryTxs(ctx, "comparables",
		`SELECT `+selectColumns("")+` FROM sale_transactions
		 WHERE condo_name_normalized = $1 AND sale_price > 0
		   AND sqft IS NOT NULL AND sqft BETWEEN $2 AND $3
		 ORDER BY sale_date DESC`,
		identity.NormalizeName(q.Condo), q.MinSqft, q.MaxSqft,
	)
}

func (s *PostgresStore) TransactionsForCondo(ctx context.Context, condo string) ([]model.Transaction, error) {
	return s.queryTxs(ctx, "transactions for condo",
		`SELECT `+selectColumns("")+` FROM sale_transactions
		 WHERE condo_name_normalized = $1 ORDER BY sale_date, id`,
		identity.NormalizeName(condo),
	)
}

func (s *PostgresStore) CondoNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT condo_name FROM (
			SELECT DISTINCT ON (condo_name_normalized) condo_name
			FROM sale_transactions ORDER BY condo_name_normalized, created_at
		 ) n ORDER BY condo_name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: condo names")
	}
	return collectPostgres[string](rows, "condo names")
}

func (s *PostgresStore) UnitSqft(ctx context.Context, condo string, level, unit int) ([]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sqft FROM sale_transactions
		 WHERE condo_name_normalized = $1 AND exact_level = $2 AND exact_unit = $3 AND sqft IS NOT NULL
		 ORDER BY sale_date DESC`,
		identity.NormalizeName(condo), level, unit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: unit sqft")
	}
	return collectPostgres[float64](rows, "unit sqft")
}

func (s *PostgresStore) FloorSqfts(ctx context.Context, condo string, level int) ([]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT sqft FROM sale_transactions
		 WHERE condo_name_normalized = $1 AND sqft IS NOT NULL
		   AND (exact_level = $2 OR (level_low <= $2 AND level_high >= $2))
		 ORDER BY sqft`,
		identity.NormalizeName(condo), level,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: floor sqfts")
	}
	return collectPostgres[float64](rows, "floor sqfts")
}

func collectPostgres[T any](rows pgx.Rows, op string) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		var v T
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrapf(err, "postgres: %s: scan", op)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s", op)
}

func (s *PostgresStore) InsertLead(ctx context.Context, l model.Lead) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO valuation_leads (id, email, condo_name, unit_label, sqft, outcome, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.Email, l.CondoName, l.UnitLabel, l.Sqft, l.Outcome, l.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert lead")
}

var projectColumns = []string{
	"project_id", "name", "developer", "street", "region", "district_id", "num_units",
	"tenure", "completion_year", "max_floor", "latitude", "longitude", "updated_at",
}

func (s *PostgresStore) UpsertProjects(ctx context.Context, projects []model.Project) (int64, error) {
	now := time.Now().UTC()
	vals := make([][]any, len(projects))
	for i, p := range projects {
		vals[i] = []any{
			p.ProjectID, p.Name, p.Developer, p.Street, p.Region, p.DistrictID, p.NumUnits,
			p.Tenure, p.CompletionYear, p.MaxFloor, p.Latitude, p.Longitude, now,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "brokerage_projects",
		Columns:      projectColumns,
		ConflictKeys: []string{"project_id"},
	}, vals)
	return n, eris.Wrap(err, "postgres: upsert projects")
}

var rentalColumns = []string{
	"rental_id", "project_id", "project_name", "street", "lease_date", "property_type",
	"area_sqft_min", "area_sqft_max", "rent", "psf", "bedrooms",
}

func rentalValues(r *model.Rental) []any {
	return []any{
		r.RentalID, r.ProjectID, r.ProjectName, r.Street, r.LeaseDate, r.PropertyType,
		r.AreaSqftMin, r.AreaSqftMax, r.Rent, r.PSF, r.Bedrooms,
	}
}

func (s *PostgresStore) UpsertRentals(ctx context.Context, rentals []model.Rental) (int64, error) {
	vals := make([][]any, len(rentals))
	for i := range rentals {
		vals[i] = rentalValues(&rentals[i])
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "brokerage_rentals",
		Columns:      rentalColumns,
		ConflictKeys: []string{"rental_id"},
	}, vals)
	return n, eris.Wrap(err, "postgres: upsert rentals")
}

func (s *PostgresStore) StartRun(ctx context.Context, source model.Source) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ingest_runs (source, status, started_at) VALUES ($1, 'running', now()) RETURNING id`,
		string(source),
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: start run for %s", source)
	}
	return id, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, id int64, report any) error {
	data, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run report")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = 'complete', completed_at = now(), report = $1 WHERE id = $2`,
		data, id,
	)
	return eris.Wrapf(err, "postgres: complete run %d", id)
}

func (s *PostgresStore) FailRun(ctx context.Context, id int64, msg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = 'failed', completed_at = now(), error = $1 WHERE id = $2`,
		msg, id,
	)
	return eris.Wrapf(err, "postgres: fail run %d", id)
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, started_at, completed_at, error, report
		 FROM ingest_runs ORDER BY started_at DESC LIMIT $1`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var source, status string
		var errStr *string
		var report []byte
		if err := rows.Scan(&r.ID, &source, &status, &r.StartedAt, &r.CompletedAt, &errStr, &report); err != nil {
			return nil, eris.Wrap(err, "postgres: list runs: scan")
		}
		r.Source, r.Status = model.Source(source), model.RunStatus(status)
		if errStr != nil {
			r.Error = *errStr
		}
		r.Report = report
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs")
}

func (s *PostgresStore) RecordMissing(ctx context.Context, m model.MissingUnit) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO missing_units (source, unit, error, error_class, attempts, first_seen, last_seen)
		 VALUES ($1, $2, $3, $4, 1, now(), now())
		 ON CONFLICT (source, unit) DO UPDATE SET
		   error = EXCLUDED.error, error_class = EXCLUDED.error_class,
		   attempts = missing_units.attempts + 1, last_seen = now()`,
		string(m.Source), m.Unit, m.Error, m.ErrorClass,
	)
	return eris.Wrapf(err, "postgres: record missing %s/%s", m.Source, m.Unit)
}

func (s *PostgresStore) ListMissing(ctx context.Context, source model.Source) ([]model.MissingUnit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, unit, error, error_class, attempts, first_seen, last_seen
		 FROM missing_units WHERE ($1 = '' OR source = $1) ORDER BY source, unit`,
		string(source),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list missing")
	}
	defer rows.Close()

	var out []model.MissingUnit
	for rows.Next() {
		var m model.MissingUnit
		var src string
		if err := rows.Scan(&src, &m.Unit, &m.Error, &m.ErrorClass, &m.Attempts, &m.FirstSeen, &m.LastSeen); err != nil {
			return nil, eris.Wrap(err, "postgres: list missing: scan")
		}
		m.Source = model.Source(src)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list missing")
}

func (s *PostgresStore) ResolveMissing(ctx context.Context, source model.Source, unit string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM missing_units WHERE source = $1 AND unit = $2`, string(source), unit)
	return eris.Wrapf(err, "postgres: resolve missing %s/%s", source, unit)
}
