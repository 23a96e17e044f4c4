// =============================================================================
// NF-e Supplier Classifier - Snapshot Lookup Sources
// =============================================================================
//
// An offline snapshot of the two lookups, exported either to a single XLSX
// file or to two CSV files in one folder (see csv.go):
//
//   Sheet "ledger"     ledger.csv     one row per entry invoice or per (accumulator, supplier)
//   Sheet "suppliers"  suppliers.csv  the supplier master
//
// Columns are found by their header (row 1), in any order, case-insensitive:
//
//   | Column                         | Sheet             | Required |
//   |--------------------------------|-------------------|----------|
//   | CODI_ACU                       | ledger            | yes      |
//   | NOME_ACU                       | ledger            | yes      |
//   | CODI_FOR / CODIGO_FORNECEDOR   | ledger, suppliers | yes      |
//   | NOME_FOR / NOME_FORNECEDOR     | ledger, suppliers | yes      |
//   | CGCE_FOR / CNPJ                | ledger, suppliers | yes      |
//   | DDOC_ENT                       | ledger            | no       |
//   | CODI_EMP                       | ledger, suppliers | no       |
//
// When DDOC_ENT is present only rows within the queried period are used, and
// when CODI_EMP is present only rows of the queried company.
//
// =============================================================================

package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/nfe-classifier/internal/faults"
	"github.com/ginjaninja78/nfe-classifier/internal/nfe"
	"github.com/ginjaninja78/nfe-classifier/internal/types"
)

// Sheet names of the snapshot workbook.
const (
	LedgerSheet   = "ledger"
	SupplierSheet = "suppliers"
)

// headerAliases maps each logical column to the headers accepted for it.
var headerAliases = map[string][]string{
	"acu":     {"CODI_ACU"},
	"nacu":    {"NOME_ACU"},
	"cod":     {"CODI_FOR", "CODIGO_FORNECEDOR"},
	"nome":    {"NOME_FOR", "NOME_FORNECEDOR"},
	"cnpj":    {"CGCE_FOR", "CNPJ"},
	"date":    {"DDOC_ENT"},
	"company": {"CODI_EMP"},
}

// Required logical columns per snapshot table.
var (
	ledgerColumns   = []string{"acu", "nacu", "cod", "nome", "cnpj"}
	supplierColumns = []string{"cod", "nome", "cnpj"}
)

// SnapshotSource serves the lookups from rows loaded at open time, read from
// an XLSX workbook (OpenWorkbook) or a pair of CSV files (OpenCSV).
type SnapshotSource struct {
	path      string
	ledger    []sheetRow
	suppliers []sheetRow
}

type sheetRow struct {
	cells   map[string]string
	date    time.Time
	hasDate bool
}

// OpenWorkbook loads both sheets of the snapshot at path.
func OpenWorkbook(path string) (*SnapshotSource, error) {
	if path == "" {
		return nil, faults.New(faults.LookupUnavailable, "open lookup", "", "no workbook path configured")
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, faults.Wrap(err, faults.LookupUnavailable, "open workbook", path)
	}
	defer f.Close()

	ws := &SnapshotSource{path: path}
	ws.ledger, err = readSheet(f, LedgerSheet, ledgerColumns)
	if err != nil {
		return nil, faults.Wrap(err, faults.LookupUnavailable, "read workbook", path)
	}
	ws.suppliers, err = readSheet(f, SupplierSheet, supplierColumns)
	if err != nil {
		return nil, faults.Wrap(err, faults.LookupUnavailable, "read workbook", path)
	}
	return ws, nil
}

// PeriodLedger implements Source. Rows are returned distinct, in sheet order.
func (w *SnapshotSource) PeriodLedger(ctx context.Context, company string, from, to time.Time) ([]types.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(err, faults.LookupUnavailable, "query period ledger", w.path)
	}

	seen := make(map[types.LedgerEntry]struct{})
	var out []types.LedgerEntry
	for _, r := range w.ledger {
		if !r.matchesCompany(company) {
			continue
		}
		if r.hasDate && !inPeriod(r.date, from, to) {
			continue
		}
		e := types.LedgerEntry{
			TaxID:           nfe.NormalizeTaxID(r.cells["cnpj"]),
			AccumulatorCode: r.cells["acu"],
			AccumulatorName: r.cells["nacu"],
			SupplierCode:    r.cells["cod"],
			SupplierName:    r.cells["nome"],
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}

// SupplierMaster implements Source.
func (w *SnapshotSource) SupplierMaster(ctx context.Context, company string) ([]types.SupplierMasterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(err, faults.LookupUnavailable, "query supplier master", w.path)
	}

	out := make([]types.SupplierMasterEntry, 0, len(w.suppliers))
	for _, r := range w.suppliers {
		if !r.matchesCompany(company) {
			continue
		}
		out = append(out, types.SupplierMasterEntry{
			TaxID:        nfe.NormalizeTaxID(r.cells["cnpj"]),
			SupplierCode: r.cells["cod"],
			SupplierName: r.cells["nome"],
		})
	}
	return out, nil
}

// Close implements Source. The snapshot files are already closed after loading.
func (w *SnapshotSource) Close() error { return nil }

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// readSheet loads every non-empty data row of sheet keyed by logical column.
func readSheet(f *excelize.File, sheet string, required []string) ([]sheetRow, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return loadRows(sheet, rows, required)
}

// loadRows keys the data rows below the header row by logical column. The
// first row is the header.
func loadRows(sheet string, rows [][]string, required []string) ([]sheetRow, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q has no header row", sheet)
	}

	cols := mapHeader(rows[0])
	for _, key := range required {
		if _, ok := cols[key]; !ok {
			return nil, fmt.Errorf("sheet %q is missing column %s", sheet, headerAliases[key][0])
		}
	}

	out := make([]sheetRow, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if isRowEmpty(row) {
			continue
		}

		r := sheetRow{cells: make(map[string]string, len(cols))}
		for key, idx := range cols {
			if idx < len(row) {
				r.cells[key] = strings.TrimSpace(row[idx])
			}
		}
		if raw := r.cells["date"]; raw != "" {
			d, ok := parseCellDate(raw)
			if !ok {
				return nil, fmt.Errorf("sheet %q row %d: unreadable DDOC_ENT %q", sheet, i+1, raw)
			}
			r.date, r.hasDate = d, true
		}
		out = append(out, r)
	}
	return out, nil
}

// mapHeader returns logical column -> index for the recognized headers.
func mapHeader(header []string) map[string]int {
	cols := make(map[string]int)
	for idx, h := range header {
		h = strings.ToUpper(strings.TrimSpace(h))
		for key, aliases := range headerAliases {
			if _, done := cols[key]; done {
				continue
			}
			for _, a := range aliases {
				if h == a {
					cols[key] = idx
				}
			}
		}
	}
	return cols
}

// inPeriod reports whether t falls on a day from from to to, both inclusive.
func inPeriod(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to.AddDate(0, 0, 1))
}

func (r sheetRow) matchesCompany(company string) bool {
	c, ok := r.cells["company"]
	if !ok || c == "" {
		return true
	}
	return strings.TrimSpace(company) == c
}

func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
