package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/ginjaninja78/nfe-classifier/internal/faults"
	"github.com/ginjaninja78/nfe-classifier/internal/nfe"
	"github.com/ginjaninja78/nfe-classifier/internal/types"
)

// DefaultDocumentKind is the species code of entry invoices (NF-e).
const DefaultDocumentKind = 36

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const periodLedgerSQL = `
SELECT DISTINCT
       acu.CODI_ACU, acu.NOME_ACU,
       forn.CODI_FOR, forn.NOME_FOR,
       forn.CGCE_FOR
  FROM {s}EFENTRADAS nf
  JOIN {s}EFACUMULADOR acu
    ON acu.CODI_EMP = nf.CODI_EMP
   AND acu.CODI_ACU = nf.CODI_ACU
  JOIN {s}EFACUMULADOR_VIGENCIA vig
    ON vig.CODI_EMP = nf.CODI_EMP
   AND vig.CODI_ACU = nf.CODI_ACU
   AND vig.LANCAR_SOMENTE_ENTRADA = 'S'
   AND vig.IDEV_ACU = 'N'
  JOIN {s}EFFORNECE forn
    ON forn.CODI_EMP = nf.CODI_EMP
   AND forn.CODI_FOR = nf.CODI_FOR
 WHERE nf.CODI_EMP = ?
   AND {c} BETWEEN {d} AND {d}
   AND nf.CODI_ESP = ?`

const supplierMasterSQL = `
SELECT CODI_FOR, NOME_FOR, CGCE_FOR
  FROM {s}EFFORNECE
 WHERE CODI_EMP = ?`

// SQLSource runs the lookups against the accounting database.
type SQLSource struct {
	db      *sql.DB
	driver  string
	kind    int
	timeout time.Duration

	ledgerQuery string
	masterQuery string
}

// OpenSQL opens and pings a database/sql connection with the named driver
// ("pgx" or "sqlite").
func OpenSQL(ctx context.Context, driver string, opt Options) (*SQLSource, error) {
	if opt.DSN == "" {
		return nil, faults.New(faults.LookupUnavailable, "open lookup", "", "empty dsn for driver %s", driver)
	}
	db, err := sql.Open(driver, opt.DSN)
	if err != nil {
		return nil, faults.Wrap(err, faults.LookupUnavailable, "open lookup", driver)
	}

	pctx, cancel := withTimeout(ctx, opt.Timeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, faults.Wrap(err, faults.LookupUnavailable, "ping lookup", driver)
	}

	src, err := NewSQLSource(db, driver, opt)
	if err != nil {
		db.Close()
		return nil, err
	}
	return src, nil
}

// NewSQLSource wraps an open database. The source owns db afterwards.
func NewSQLSource(db *sql.DB, driver string, opt Options) (*SQLSource, error) {
	prefix := ""
	if opt.Schema != "" {
		if !identifier.MatchString(opt.Schema) {
			return nil, faults.New(faults.LookupUnavailable, "open lookup", "", "invalid schema name %q", opt.Schema)
		}
		prefix = opt.Schema + "."
	}
	kind := opt.DocumentKind
	if kind == 0 {
		kind = DefaultDocumentKind
	}

	// entry dates compare by day; a time part must not push the last day out
	col, date := "DATE(nf.DDOC_ENT)", "?"
	if driver == "pgx" {
		col, date = "CAST(nf.DDOC_ENT AS DATE)", "CAST(? AS DATE)"
	}
	r := strings.NewReplacer("{s}", prefix, "{c}", col, "{d}", date)

	s := &SQLSource{
		db:          db,
		driver:      driver,
		kind:        kind,
		timeout:     opt.Timeout,
		ledgerQuery: r.Replace(periodLedgerSQL),
		masterQuery: r.Replace(supplierMasterSQL),
	}
	if driver == "pgx" {
		s.ledgerQuery = rebind(s.ledgerQuery)
		s.masterQuery = rebind(s.masterQuery)
	}
	return s, nil
}

// PeriodLedger implements Source.
func (s *SQLSource) PeriodLedger(ctx context.Context, company string, from, to time.Time) ([]types.LedgerEntry, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.ledgerQuery,
		companyArg(company), from.Format("2006-01-02"), to.Format("2006-01-02"), s.kind)
	if err != nil {
		return nil, faults.Wrap(err, faults.LookupUnavailable, "query period ledger", company)
	}
	defer rows.Close()

	var out []types.LedgerEntry
	for rows.Next() {
		var acu, nacu, cod, nfor, cnpj sql.NullString
		if err := rows.Scan(&acu, &nacu, &cod, &nfor, &cnpj); err != nil {
			return nil, faults.Wrap(err, faults.LookupUnavailable, "scan period ledger", company)
		}
		out = append(out, types.LedgerEntry{
			TaxID:           nfe.NormalizeTaxID(cnpj.String),
			AccumulatorCode: strings.TrimSpace(acu.String),
			AccumulatorName: strings.TrimSpace(nacu.String),
			SupplierCode:    strings.TrimSpace(cod.String),
			SupplierName:    strings.TrimSpace(nfor.String),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(err, faults.LookupUnavailable, "read period ledger", company)
	}
	return out, nil
}

// SupplierMaster implements Source.
func (s *SQLSource) SupplierMaster(ctx context.Context, company string) ([]types.SupplierMasterEntry, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.masterQuery, companyArg(company))
	if err != nil {
		return nil, faults.Wrap(err, faults.LookupUnavailable, "query supplier master", company)
	}
	defer rows.Close()

	var out []types.SupplierMasterEntry
	for rows.Next() {
		var cod, nome, cnpj sql.NullString
		if err := rows.Scan(&cod, &nome, &cnpj); err != nil {
			return nil, faults.Wrap(err, faults.LookupUnavailable, "scan supplier master", company)
		}
		out = append(out, types.SupplierMasterEntry{
			TaxID:        nfe.NormalizeTaxID(cnpj.String),
			SupplierCode: strings.TrimSpace(cod.String),
			SupplierName: strings.TrimSpace(nome.String),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(err, faults.LookupUnavailable, "read supplier master", company)
	}
	return out, nil
}

// Close releases the database handle.
func (s *SQLSource) Close() error { return s.db.Close() }

// rebind turns ? placeholders into $1, $2, ...
func rebind(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// companyArg passes numeric company ids as integers so they compare with
// integer columns on every driver.
func companyArg(company string) any {
	company = strings.TrimSpace(company)
	if n, err := strconv.ParseInt(company, 10, 64); err == nil {
		return n
	}
	return company
}

func (s *SQLSource) String() string {
	return fmt.Sprintf("sql(%s)", s.driver)
}
