package audit

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// PROCESSING SUMMARY
// =============================================================================

// Summary holds the counters of a run written at the top of the summary file.
type Summary struct {
	Company   string
	From      time.Time
	To        time.Time
	EndTime   time.Time
	Documents int
	Stage1    int
	Deferred  int
	Renamed   int

	// MultiGroups is the number of suppliers written to the multi-group table.
	MultiGroups int
}

const rule80 = "================================================================================\n"
const dash80 = "--------------------------------------------------------------------------------\n"

// WriteSummary writes processing_summary_<timestamp>.txt into dir.
//
// PARAMETERS:
//   - r: The reporter of the run. Supplies records, failures and skips.
//   - s: Run counters.
//   - dir: The directory to write the summary file (the output root).
//
// RETURNS:
//   - The path to the summary file.
//   - An error if writing fails.
func WriteSummary(r *Reporter, s Summary, dir string) (string, error) {
	if s.EndTime.IsZero() {
		s.EndTime = time.Now()
	}
	path := filepath.Join(dir, fmt.Sprintf("processing_summary_%s.txt", s.EndTime.Format("20060102_150405")))

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	placements := r.Placements()
	failures := r.Failures()
	skips := r.Skips()
	renames := r.Renames()

	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "NF-e Supplier Classifier - Processing Summary\n%s\n", rule80)
	fmt.Fprintf(w, "Run Information:\n"+
		"  Run ID:         %s\n"+
		"  Company:        %s\n"+
		"  Period:         %s to %s\n"+
		"  Start Time:     %s\n"+
		"  End Time:       %s\n"+
		"  Duration:       %s\n\n",
		r.RunID(),
		s.Company,
		dateOrDash(s.From), dateOrDash(s.To),
		r.Started().Format("2006-01-02 15:04:05"),
		s.EndTime.Format("2006-01-02 15:04:05"),
		s.EndTime.Sub(r.Started()).Round(time.Millisecond))

	fmt.Fprintf(w, "Statistics:\n"+
		"  Documents:            %d\n"+
		"  Resolved by CFOP:     %d\n"+
		"  Deferred (R1):        %d\n"+
		"  Decisions recorded:   %d\n"+
		"  Relocation failures:  %d\n"+
		"  Skipped:              %d\n"+
		"  Folders renamed:      %d\n"+
		"  Multi-group:          %d\n\n",
		s.Documents, s.Stage1, s.Deferred, len(placements), len(failures), len(skips), s.Renamed, s.MultiGroups)

	if byRule := r.CountByRule(); len(byRule) > 0 {
		rules := make([]string, 0, len(byRule))
		for k := range byRule {
			rules = append(rules, k)
		}
		sort.Strings(rules)
		w.WriteString("Decisions by Rule:\n")
		for _, k := range rules {
			fmt.Fprintf(w, "  %-10s %d\n", k, byRule[k])
		}
		w.WriteString("\n")
	}

	if len(failures) > 0 {
		w.WriteString("Relocation Failures:\n" + dash80)
		writeEntries(w, failures)
	}
	if len(skips) > 0 {
		w.WriteString("Skipped Documents:\n" + dash80)
		writeEntries(w, skips)
	}

	if len(renames) > 0 {
		w.WriteString("Renamed Folders:\n" + dash80)
		for _, rn := range renames {
			fmt.Fprintf(w, "  %s -> %s\n", rn.From, rn.To)
		}
		w.WriteString("\n")
	}

	if len(placements) > 0 {
		w.WriteString("Placements:\n" + dash80)
		for _, p := range placements {
			fmt.Fprintf(w, "  %-6s %s -> %s\n", p.Rule, p.FileName, p.Category)
		}
		w.WriteString("\n")
	}

	w.WriteString(rule80 + "End of Summary\n")

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush summary file: %w", err)
	}
	return path, nil
}

func writeEntries(w *bufio.Writer, entries []Entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "  File:  %s\n", e.FileName)
		fmt.Fprintf(w, "  Kind:  %s\n", e.Kind)
		if e.Rule != "" {
			fmt.Fprintf(w, "  Rule:  %s\n", e.Rule)
		}
		fmt.Fprintf(w, "  Error: %s\n\n", strings.TrimSpace(e.Message))
	}
}

func dateOrDash(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
