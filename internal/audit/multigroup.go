package audit

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/nfe-classifier/internal/types"
)

// MultiGroupFile is the name of the multi-group review workbook.
const MultiGroupFile = "MultiGrupo_Summary.xlsx"

// MultiGroupSheet is the sheet holding the table.
const MultiGroupSheet = "MultiGrupo"

var multiGroupHeader = []interface{}{"CNPJ", "Fornecedor", "Acumuladores"}

// WriteMultiGroupSummary writes the multi-group suppliers to
// dir/MultiGrupo_Summary.xlsx, one row per distinct record. Nothing is written
// when records is empty, and the returned path is "".
func WriteMultiGroupSummary(records []types.MultiGroupRecord, dir string) (string, error) {
	rows := DedupMultiGroups(records)
	if len(rows) == 0 {
		return "", nil
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", MultiGroupSheet); err != nil {
		return "", fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(MultiGroupSheet, "A1", &multiGroupHeader); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetCellStyle(MultiGroupSheet, "A1", "C1", style)
	}

	for i, rec := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", err
		}
		row := []interface{}{rec.TaxID, rec.Supplier, strings.Join(rec.Accumulators, ", ")}
		if err := f.SetSheetRow(MultiGroupSheet, cell, &row); err != nil {
			return "", fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	_ = f.SetColWidth(MultiGroupSheet, "A", "A", 18)
	_ = f.SetColWidth(MultiGroupSheet, "B", "B", 48)
	_ = f.SetColWidth(MultiGroupSheet, "C", "C", 24)

	path := filepath.Join(dir, MultiGroupFile)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", MultiGroupFile, err)
	}
	return path, nil
}

// DedupMultiGroups collapses identical records (same tax id, supplier and
// accumulator list) and orders the result by tax id then supplier.
// Accumulator lists are sorted and deduplicated first.
func DedupMultiGroups(records []types.MultiGroupRecord) []types.MultiGroupRecord {
	seen := make(map[string]struct{}, len(records))
	out := make([]types.MultiGroupRecord, 0, len(records))
	for _, rec := range records {
		accs := distinctSorted(rec.Accumulators)
		key := rec.TaxID + "\x00" + rec.Supplier + "\x00" + strings.Join(accs, ",")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, types.MultiGroupRecord{TaxID: rec.TaxID, Supplier: rec.Supplier, Accumulators: accs})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TaxID != out[j].TaxID {
			return out[i].TaxID < out[j].TaxID
		}
		return out[i].Supplier < out[j].Supplier
	})
	return out
}

func distinctSorted(in []string) []string {
	set := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if _, ok := set[s]; ok || s == "" {
			continue
		}
		set[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
