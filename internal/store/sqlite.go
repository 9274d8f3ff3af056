package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/hartproperty/propsync/internal/identity"
	"github.com/hartproperty/propsync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Dates are stored
// as YYYY-MM-DD text and timestamps as RFC 3339 UTC text.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return eris.Wrap(err, "sqlite: ensure migration table")
	}

	files, err := migrations("sqlite")
	if err != nil {
		return err
	}
	for _, m := range files {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", m.name).Scan(&n); err != nil {
			return eris.Wrapf(err, "sqlite: check migration %s", m.name)
		}
		if n > 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return eris.Wrapf(err, "sqlite: apply migration %s", m.name)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", m.name); err != nil {
			return eris.Wrapf(err, "sqlite: record migration %s", m.name)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func sqliteDate(d *time.Time) any {
	if d == nil {
		return nil
	}
	return d.Format(model.DateLayout)
}

func sqliteTxValues(t *model.Transaction, now time.Time) []any {
	vals := txValues(t, now)
	vals[3] = t.SaleDate.Format(model.DateLayout)
	vals[15] = sqliteDate(t.PurchaseDate)
	vals[20] = vals[20].(time.Time).UTC().Format(time.RFC3339)
	return vals
}

func scanSQLiteTx(row scannable) (model.Transaction, error) {
	var t model.Transaction
	var source, saleDate, created string
	var purchaseDate *string
	err := row.Scan(
		&t.ID, &t.CondoName, &t.CondoNameNormalized, &saleDate, &t.SalePrice, &t.SaleMonth,
		&t.ExactLevel, &t.ExactUnit, &t.LevelLow, &t.LevelHigh,
		&t.Sqft, &t.UnitType, &t.PropertyType, &t.SaleType,
		&t.PurchasePrice, &purchaseDate, &t.Profit, &t.AnnualisedPct,
		&source, &t.BrokerageProjectID, &created,
	)
	if err != nil {
		return t, err
	}
	t.Source = model.Source(source)
	if t.SaleDate, err = model.ParseDate(saleDate); err != nil {
		return t, eris.Wrapf(err, "sqlite: sale_date of %s", t.ID)
	}
	if purchaseDate != nil {
		d, err := model.ParseDate(*purchaseDate)
		if err != nil {
			return t, eris.Wrapf(err, "sqlite: purchase_date of %s", t.ID)
		}
		t.PurchaseDate = &d
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
		return t, eris.Wrapf(err, "sqlite: created_at of %s", t.ID)
	}
	return t, nil
}

func (s *SQLiteStore) queryTxs(ctx context.Context, op, query string, args ...any) ([]model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanSQLiteTx(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s: scan", op)
		}
		out = append(out, t)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s", op)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *SQLiteStore) FindByCoarseKeys(ctx context.Context, keys []identity.CoarseKey) ([]model.Transaction, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	seen := make(map[identity.CoarseKey]bool, len(keys))
	var tuples []string
	var args []any
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		tuples = append(tuples, "(?, ?, ?)")
		args = append(args, k.Name, k.Price, k.Month)
	}
	return s.queryTxs(ctx, "find by coarse keys",
		`SELECT `+selectColumns("")+` FROM sale_transactions
		 WHERE (condo_name_normalized, sale_price, sale_month) IN (VALUES `+strings.Join(tuples, ", ")+`)
		 ORDER BY id`,
		args...,
	)
}

func (s *SQLiteStore) UpsertExact(ctx context.Context, rows []model.Transaction) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	sets := make([]string, len(fillColumns))
	for i, c := range fillColumns {
		sets[i] = fmt.Sprintf("%s = COALESCE(%s, excluded.%s)", c, c, c)
	}
	query := fmt.Sprintf(
		"INSERT INTO sale_transactions (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		strings.Join(txColumns, ", "), placeholders(len(txColumns)),
		strings.Join(preciseKey, ", "), strings.Join(sets, ", "),
	)
	return s.execEach(ctx, "upsert exact", query, rows)
}

func (s *SQLiteStore) InsertRange(ctx context.Context, rows []model.Transaction) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf("INSERT INTO sale_transactions (%s) VALUES (%s)",
		strings.Join(txColumns, ", "), placeholders(len(txColumns)))
	return s.execEach(ctx, "insert range", query, rows)
}

// execEach runs query once per row inside one transaction.
func (s *SQLiteStore) execEach(ctx context.Context, op, query string, rows []model.Transaction) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: %s: begin", op)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: %s: prepare", op)
	}
	defer stmt.Close() //nolint:errcheck

	now := s.now().UTC()
	var total int64
	for i := range rows {
		res, err := stmt.ExecContext(ctx, sqliteTxValues(&rows[i], now)...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: %s: row %d", op, i)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "sqlite: %s: commit", op)
	}
	return total, nil
}

func (s *SQLiteStore) FillNulls(ctx context.Context, ids []string, row model.Transaction, exactID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	// Positional ? placeholders: the exact id is bound once per CASE.
	query := fillNullsSQL(func(int) string { return "?" }, "id IN ("+placeholders(len(ids))+")")
	args := []any{exactID, row.ExactLevel, exactID, row.ExactUnit}
	args = append(args, fillValues(&row, sqliteDate)...)
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: fill nulls for %d rows", len(ids))
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ClearUnconfirmedUnits(ctx context.Context, projectID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sale_transactions SET exact_level = NULL, exact_unit = NULL
		 WHERE brokerage_project_id = ? AND purchase_price IS NULL
		   AND exact_unit IS NOT NULL`,
		projectID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: clear unconfirmed units for project %d", projectID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) PriorSale(ctx context.Context, condoNormalized string, level, unit int, before time.Time) (*model.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns("")+` FROM sale_transactions
		 WHERE condo_name_normalized = ? AND exact_level = ? AND exact_unit = ? AND sale_date < ?
		 ORDER BY sale_date DESC LIMIT 1`,
		condoNormalized, level, unit, before.Format(model.DateLayout),
	)
	t, err := scanSQLiteTx(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prior sale")
	}
	return &t, nil
}

func (s *SQLiteStore) CanonicalNames(ctx context.Context, normalized []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(normalized) == 0 {
		return out, nil
	}
	args := make([]any, len(normalized))
	for i, n := range normalized {
		args[i] = n
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT condo_name_normalized, condo_name FROM sale_transactions
		 WHERE condo_name_normalized IN (`+placeholders(len(args))+`)
		 ORDER BY created_at, id`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: canonical names")
	}
	defer rows.Close()
	for rows.Next() {
		var key, name string
		if err := rows.Scan(&key, &name); err != nil {
			return nil, eris.Wrap(err, "sqlite: canonical names: scan")
		}
		if _, ok := out[key]; !ok {
			out[key] = name
		}
	}
	return out, eris.Wrap(rows.Err(), "sqlite: canonical names")
}

func (s *SQLiteStore) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns("")+` FROM sale_transactions WHERE id = ?`, id)
	t, err := scanSQLiteTx(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get transaction %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get transaction %s", id)
	}
	return &t, nil
}

func (s *SQLiteStore) SaveTransaction(ctx context.Context, t model.Transaction) error {
	vals := sqliteTxValues(&t, s.now())
	cols := txColumns[1 : len(txColumns)-1]
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	args := append(vals[1:len(vals)-1], t.ID)
	res, err := s.db.ExecContext(ctx,
		"UPDATE sale_transactions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save transaction %s", t.ID)
	}
	return checkRowsAffected(res, "transaction", t.ID)
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, f ListFilter) ([]model.Transaction, error) {
	query := `SELECT ` + selectColumns("") + ` FROM sale_transactions WHERE 1=1`
	var args []any
	if f.Condo != "" {
		query += " AND condo_name_normalized = ?"
		args = append(args, identity.NormalizeName(f.Condo))
	}
	if f.Source != "" {
		query += " AND source = ?"
		args = append(args, string(f.Source))
	}
	query += " ORDER BY sale_date DESC, id LIMIT ? OFFSET ?"
	args = append(args, listLimit(f.Limit), max(f.Offset, 0))
	return s.queryTxs(ctx, "list transactions", query, args...)
}

func (s *SQLiteStore) Comparables(ctx context.Context, q ComparableQuery) ([]model.Transaction, error) {
	return s.queryTxs(ctx, "comparables",
		`SELECT `+selectColumns("")+` FROM sale_transactions
		 WHERE condo_name_normalized = ? AND sale_price > 0
		   AND sqft IS NOT NULL AND sqft BETWEEN ? AND ?
		 ORDER BY sale_date DESC`,
		identity.NormalizeName(q.Condo), q.MinSqft, q.MaxSqft,
	)
}

func (s *SQLiteStore) TransactionsForCondo(ctx context.Context, condo string) ([]model.Transaction, error) {
	return s.queryTxs(ctx, "transactions for condo",
		`SELECT `+selectColumns("")+` FROM sale_transactions
		 WHERE condo_name_normalized = ? ORDER BY sale_date, id`,
		identity.NormalizeName(condo),
	)
}

// CondoNames returns one display name per development, taken from its
// earliest stored row.
func (s *SQLiteStore) CondoNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT condo_name, MIN(created_at) FROM sale_transactions
		 GROUP BY condo_name_normalized ORDER BY condo_name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: condo names")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name, first string
		if err := rows.Scan(&name, &first); err != nil {
			return nil, eris.Wrap(err, "sqlite: condo names: scan")
		}
		out = append(out, name)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: condo names")
}

func (s *SQLiteStore) UnitSqft(ctx context.Context, condo string, level, unit int) ([]float64, error) {
	return s.floats(ctx, "unit sqft",
		`SELECT sqft FROM sale_transactions
		 WHERE condo_name_normalized = ? AND exact_level = ? AND exact_unit = ? AND sqft IS NOT NULL
		 ORDER BY sale_date DESC`,
		identity.NormalizeName(condo), level, unit,
	)
}

func (s *SQLiteStore) FloorSqfts(ctx context.Context, condo string, level int) ([]float64, error) {
	return s.floats(ctx, "floor sqfts",
		`SELECT DISTINCT sqft FROM sale_transactions
		 WHERE condo_name_normalized = ? AND sqft IS NOT NULL
		   AND (exact_level = ? OR (level_low <= ? AND level_high >= ?))
		 ORDER BY sqft`,
		identity.NormalizeName(condo), level, level, level,
	)
}

func (s *SQLiteStore) floats(ctx context.Context, op, query string, args ...any) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s: scan", op)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s", op)
}

func (s *SQLiteStore) InsertLead(ctx context.Context, l model.Lead) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	created := s.stamp()
	if !l.CreatedAt.IsZero() {
		created = l.CreatedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO valuation_leads (id, email, condo_name, unit_label, sqft, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Email, l.CondoName, l.UnitLabel, l.Sqft, l.Outcome, created,
	)
	return eris.Wrap(err, "sqlite: insert lead")
}

func (s *SQLiteStore) UpsertProjects(ctx context.Context, projects []model.Project) (int64, error) {
	updates := make([]string, 0, len(projectColumns)-1)
	for _, c := range projectColumns[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	query := fmt.Sprintf("INSERT INTO brokerage_projects (%s) VALUES (%s) ON CONFLICT (project_id) DO UPDATE SET %s",
		strings.Join(projectColumns, ", "), placeholders(len(projectColumns)), strings.Join(updates, ", "))

	now := s.stamp()
	var total int64
	for _, p := range projects {
		res, err := s.db.ExecContext(ctx, query,
			p.ProjectID, p.Name, p.Developer, p.Street, p.Region, p.DistrictID, p.NumUnits,
			p.Tenure, p.CompletionYear, p.MaxFloor, p.Latitude, p.Longitude, now,
		)
		if err != nil {
			return total, eris.Wrapf(err, "sqlite: upsert project %d", p.ProjectID)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (s *SQLiteStore) UpsertRentals(ctx context.Context, rentals []model.Rental) (int64, error) {
	query := fmt.Sprintf("INSERT OR REPLACE INTO brokerage_rentals (%s) VALUES (%s)",
		strings.Join(rentalColumns, ", "), placeholders(len(rentalColumns)))

	var total int64
	for i := range rentals {
		res, err := s.db.ExecContext(ctx, query, rentalValues(&rentals[i])...)
		if err != nil {
			return total, eris.Wrapf(err, "sqlite: upsert rental %d", rentals[i].RentalID)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, source model.Source) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (source, status, started_at) VALUES (?, ?, ?)`,
		string(source), string(model.RunRunning), s.stamp(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: start run for %s", source)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: last insert id")
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, id int64, report any) error {
	data, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run report")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, completed_at = ?, report = ? WHERE id = ?`,
		string(model.RunComplete), s.stamp(), string(data), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %d", id)
	}
	return checkRowsAffected(res, "run", fmt.Sprint(id))
}

func (s *SQLiteStore) FailRun(ctx context.Context, id int64, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(model.RunFailed), s.stamp(), msg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %d", id)
	}
	return checkRowsAffected(res, "run", fmt.Sprint(id))
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, started_at, completed_at, error, report
		 FROM ingest_runs ORDER BY started_at DESC, id DESC LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var source, status, started string
		var completed, errStr, report sql.NullString
		if err := rows.Scan(&r.ID, &source, &status, &started, &completed, &errStr, &report); err != nil {
			return nil, eris.Wrap(err, "sqlite: list runs: scan")
		}
		r.Source, r.Status, r.Error = model.Source(source), model.RunStatus(status), errStr.String
		if r.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
			return nil, eris.Wrapf(err, "sqlite: run %d started_at", r.ID)
		}
		if completed.Valid {
			c, err := time.Parse(time.RFC3339, completed.String)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: run %d completed_at", r.ID)
			}
			r.CompletedAt = &c
		}
		if report.Valid {
			r.Report = json.RawMessage(report.String)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs")
}

func (s *SQLiteStore) RecordMissing(ctx context.Context, m model.MissingUnit) error {
	now := s.stamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO missing_units (source, unit, error, error_class, attempts, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT (source, unit) DO UPDATE SET
		   error = excluded.error, error_class = excluded.error_class,
		   attempts = missing_units.attempts + 1, last_seen = excluded.last_seen`,
		string(m.Source), m.Unit, m.Error, m.ErrorClass, now, now,
	)
	return eris.Wrapf(err, "sqlite: record missing %s/%s", m.Source, m.Unit)
}

func (s *SQLiteStore) ListMissing(ctx context.Context, source model.Source) ([]model.MissingUnit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, unit, error, error_class, attempts, first_seen, last_seen
		 FROM missing_units WHERE (? = '' OR source = ?) ORDER BY source, unit`,
		string(source), string(source),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list missing")
	}
	defer rows.Close()

	var out []model.MissingUnit
	for rows.Next() {
		var m model.MissingUnit
		var src, first, last string
		if err := rows.Scan(&src, &m.Unit, &m.Error, &m.ErrorClass, &m.Attempts, &first, &last); err != nil {
			return nil, eris.Wrap(err, "sqlite: list missing: scan")
		}
		m.Source = model.Source(src)
		m.FirstSeen, _ = time.Parse(time.RFC3339, first)
		m.LastSeen, _ = time.Parse(time.RFC3339, last)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list missing")
}

func (s *SQLiteStore) ResolveMissing(ctx context.Context, source model.Source, unit string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM missing_units WHERE source = ? AND unit = ?`, string(source), unit)
	return eris.Wrapf(err, "sqlite: resolve missing %s/%s", source, unit)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}
