// Package export writes canonical transactions and OCR audits to CSV and
// XLSX.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/hartproperty/propsync/internal/feeds"
	"github.com/hartproperty/propsync/internal/model"
)

// Formats accepted by Write.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Columns is the header row of a transaction export.
var Columns = []string{
	"id", "condo_name", "sale_date", "sale_price", "exact_level", "exact_unit",
	"level_low", "level_high", "sqft", "psf", "unit_type", "property_type", "sale_type",
	"purchase_date", "purchase_price", "profit", "annualised_pct", "source",
}

// AuditColumns is the header row of an OCR audit.
var AuditColumns = []string{
	"image", "status", "reason", "field", "detail",
	"sale_date", "sale_price", "exact_level", "exact_unit", "sqft", "unit_type",
	"purchase_date", "purchase_price",
}

func str[T any](p *T, f func(T) string) string {
	if p == nil {
		return ""
	}
	return f(*p)
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func date(t time.Time) string { return t.Format(model.DateLayout) }

func identity(s string) string { return s }

// Record flattens a transaction in Columns order.
func Record(t *model.Transaction) []string {
	psf := ""
	if v, ok := t.PSF(); ok {
		psf = num(model.Round2(v))
	}
	return []string{
		t.ID,
		t.CondoName,
		date(t.SaleDate),
		num(t.SalePrice),
		str(t.ExactLevel, strconv.Itoa),
		str(t.ExactUnit, strconv.Itoa),
		str(t.LevelLow, strconv.Itoa),
		str(t.LevelHigh, strconv.Itoa),
		str(t.Sqft, num),
		psf,
		str(t.UnitType, identity),
		str(t.PropertyType, identity),
		str(t.SaleType, identity),
		str(t.PurchaseDate, date),
		str(t.PurchasePrice, num),
		str(t.Profit, num),
		str(t.AnnualisedPct, num),
		string(t.Source),
	}
}

// AuditRecord flattens an audit entry in AuditColumns order.
func AuditRecord(e *feeds.AuditEntry) []string {
	rec := make([]string, len(AuditColumns))
	rec[0] = e.Image
	if e.Accepted {
		rec[1] = "accepted"
	} else {
		rec[1] = "dropped"
	}
	if e.Drop != nil {
		rec[2], rec[3], rec[4] = string(e.Drop.Reason), e.Drop.Field, e.Drop.Detail
	}
	if t := e.Transaction; t != nil {
		rec[5] = date(t.SaleDate)
		rec[6] = num(t.SalePrice)
		rec[7] = str(t.ExactLevel, strconv.Itoa)
		rec[8] = str(t.ExactUnit, strconv.Itoa)
		rec[9] = str(t.Sqft, num)
		rec[10] = str(t.UnitType, identity)
		rec[11] = str(t.PurchaseDate, date)
		rec[12] = str(t.PurchasePrice, num)
	}
	return rec
}

// WriteCSV writes rows with a header.
func WriteCSV(w io.Writer, rows []model.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for i := range rows {
		if err := cw.Write(Record(&rows[i])); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteAuditCSV writes OCR audit entries with a header.
func WriteAuditCSV(w io.Writer, entries []feeds.AuditEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(AuditColumns); err != nil {
		return eris.Wrap(err, "export: write audit header")
	}
	for i := range entries {
		if err := cw.Write(AuditRecord(&entries[i])); err != nil {
			return eris.Wrap(err, "export: write audit row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush audit")
}

// WriteXLSX writes rows to a single "transactions" sheet. Numeric columns
// are stored as numbers.
func WriteXLSX(w io.Writer, rows []model.Transaction) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("transactions")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range Columns {
		header.AddCell().SetString(c)
	}
	for i := range rows {
		row := sheet.AddRow()
		for j, v := range Record(&rows[i]) {
			cell := row.AddCell()
			if numeric[Columns[j]] && v != "" {
				if fv, err := strconv.ParseFloat(v, 64); err == nil {
					cell.SetFloat(fv)
					continue
				}
			}
			cell.SetString(v)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

var numeric = map[string]bool{
	"sale_price": true, "exact_level": true, "exact_unit": true, "level_low": true,
	"level_high": true, "sqft": true, "psf": true, "purchase_price": true,
	"profit": true, "annualised_pct": true,
}

// Write dispatches on format.
func Write(w io.Writer, format string, rows []model.Transaction) error {
	switch format {
	case FormatCSV, "":
		return WriteCSV(w, rows)
	case FormatXLSX:
		return WriteXLSX(w, rows)
	default:
		return eris.Errorf("export: unknown format %q (want csv or xlsx)", format)
	}
}
