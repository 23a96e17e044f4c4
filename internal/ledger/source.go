// Package ledger provides the external lookups used by Stage-2: the period
// ledger of a company and its full supplier master.
//
// Two kinds of source exist: a SQL source reaching the accounting database
// through database/sql (pgx or SQLite drivers), and a snapshot source reading
// an export of it (one XLSX workbook or two CSV files). Every failure to produce rows is a LookupUnavailable.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ginjaninja78/nfe-classifier/internal/faults"
	"github.com/ginjaninja78/nfe-classifier/internal/types"
)

// Source answers the two Stage-2 queries.
type Source interface {
	// PeriodLedger returns the distinct (accumulator, supplier) rows of the
	// company's entry invoices dated within [from, to].
	PeriodLedger(ctx context.Context, company string, from, to time.Time) ([]types.LedgerEntry, error)

	// SupplierMaster returns every supplier registered for the company.
	SupplierMaster(ctx context.Context, company string) ([]types.SupplierMasterEntry, error)

	Close() error
}

// Options selects and configures a Source.
type Options struct {
	// Driver is pgx, sqlite, workbook or csv.
	Driver string

	// DSN is the connection string, the workbook path or the CSV folder.
	DSN string

	// Schema qualifies table names in SQL sources. Empty means unqualified.
	Schema string

	// DocumentKind is the invoice species code filtering the ledger (CODI_ESP).
	DocumentKind int

	// Timeout bounds each query. Zero means no timeout.
	Timeout time.Duration
}

// Open returns the Source described by opt.
func Open(ctx context.Context, opt Options) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(opt.Driver)) {
	case "pgx", "postgres", "postgresql":
		return OpenSQL(ctx, "pgx", opt)
	case "sqlite", "sqlite3":
		return OpenSQL(ctx, "sqlite", opt)
	case "workbook", "xlsx":
		return OpenWorkbook(opt.DSN)
	case "csv":
		return OpenCSV(opt.DSN)
	case "":
		return nil, faults.New(faults.LookupUnavailable, "open lookup", "", "no lookup driver configured")
	default:
		return nil, faults.New(faults.LookupUnavailable, "open lookup", "", "unknown lookup driver %q", opt.Driver)
	}
}

// dateLayouts are the accepted textual date forms, ISO first.
var dateLayouts = []string{"2006-01-02", "02/01/2006", "2006-01-02 15:04:05", time.RFC3339, "01-02-06"}

// ParseDate reads a date written as YYYY-MM-DD or DD/MM/YYYY.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts[:2] {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or DD/MM/YYYY", s)
}

// parseCellDate is ParseDate plus the layouts spreadsheets tend to produce.
func parseCellDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
