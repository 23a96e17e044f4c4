package ledger

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/ginjaninja78/nfe-classifier/internal/faults"
)

// File names of a CSV snapshot folder.
const (
	LedgerCSV   = "ledger.csv"
	SupplierCSV = "suppliers.csv"
)

// candidate delimiters, in tie-break order
var delimiters = []rune{';', ',', '\t', '|'}

// OpenCSV loads ledger.csv and suppliers.csv from dir. Columns follow the
// workbook headers. Files may be UTF-8 (with or without BOM) or Windows-1252,
// and the delimiter is detected from the header line.
func OpenCSV(dir string) (*SnapshotSource, error) {
	if dir == "" {
		return nil, faults.New(faults.LookupUnavailable, "open lookup", "", "no csv folder configured")
	}

	src := &SnapshotSource{path: dir}
	var err error
	src.ledger, err = readCSV(filepath.Join(dir, LedgerCSV), ledgerColumns)
	if err != nil {
		return nil, faults.Wrap(err, faults.LookupUnavailable, "read csv", dir)
	}
	src.suppliers, err = readCSV(filepath.Join(dir, SupplierCSV), supplierColumns)
	if err != nil {
		return nil, faults.Wrap(err, faults.LookupUnavailable, "read csv", dir)
	}
	return src, nil
}

func readCSV(path string, required []string) ([]sheetRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	data, err = toUTF8(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV file: %w", err)
	}
	return loadRows(filepath.Base(path), rows, required)
}

// toUTF8 drops a UTF-8 BOM, or decodes the whole file as Windows-1252 when it
// is not valid UTF-8 (the usual encoding of Windows accounting exports).
func toUTF8(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return data, nil
	}
	return charmap.Windows1252.NewDecoder().Bytes(data)
}

// sniffDelimiter picks the candidate occurring most often in the first line.
func sniffDelimiter(data []byte) rune {
	line := string(data)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	best, bestN := ',', 0
	for _, d := range delimiters {
		if n := strings.Count(line, string(d)); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}
