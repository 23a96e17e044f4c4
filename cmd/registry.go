// =============================================================================
// NF-e Supplier Classifier - Registry Command
// =============================================================================
//
// COMMAND USAGE:
//   nfe-classifier registry           # one line per group with its code count
//   nfe-classifier registry --yaml    # the registry in registry_file format
//   nfe-classifier registry --check   # fail when a code belongs to two groups
//
// The registry printed is registry_file when configured, the built-in table
// otherwise.
//
// =============================================================================

package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/nfe-classifier/internal/cfop"
	"github.com/ginjaninja78/nfe-classifier/internal/pipeline"
)

var (
	registryCheck bool
	registryYAML  bool
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Print or check the CFOP group registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := pipeline.LoadRegistry(cfg)
		if err != nil {
			return err
		}
		return printRegistry(cmd.OutOrStdout(), reg, registryYAML, registryCheck)
	},
}

func init() {
	rootCmd.AddCommand(registryCmd)
	registryCmd.Flags().BoolVar(&registryCheck, "check", false, "Fail if a code is listed in more than one group")
	registryCmd.Flags().BoolVar(&registryYAML, "yaml", false, "Print the registry as YAML")
}

func printRegistry(w io.Writer, reg *cfop.Registry, asYAML, check bool) error {
	if asYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(reg); err != nil {
			return fmt.Errorf("failed to encode registry: %w", err)
		}
		if err := enc.Close(); err != nil {
			return err
		}
	} else {
		for _, g := range reg.Groups() {
			marker := ""
			if g.Name == reg.CatchAll() {
				marker = " (catch-all)"
			}
			fmt.Fprintf(w, "%-32s %4d%s\n", g.Name, len(g.Codes), marker)
		}
		fmt.Fprintf(w, "%d groups, %d codes\n", len(reg.Groups()), reg.Len())
	}

	if !check {
		return nil
	}
	dups := reg.Duplicates()
	if len(dups) == 0 {
		fmt.Fprintln(w, "OK: every code belongs to exactly one group")
		return nil
	}
	codes := make([]string, 0, len(dups))
	for c := range dups {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	for _, c := range codes {
		fmt.Fprintf(w, "DUPLICATE %s: %s\n", c, strings.Join(dups[c], ", "))
	}
	return fmt.Errorf("%d code(s) listed in more than one group", len(codes))
}
