// =============================================================================
// NF-e Supplier Classifier - Version Command
// =============================================================================
//
// COMMAND USAGE:
//   nfe-classifier version
//
// OUTPUT:
//   NF-e Supplier Classifier
//   Version:    1.0.0
//   Build Date: 2024-01-01
//   Go Version: go1.22.0
//   Registry:   11 groups, 140 codes
//
// =============================================================================

package cmd

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/nfe-classifier/internal/cfop"
)

// Version and BuildDate are set at build time:
//   go build -ldflags "-X 'github.com/ginjaninja78/nfe-classifier/cmd.Version=1.0.0'"
var (
	Version   = "1.0.0"
	BuildDate = "unknown"
)

// versionCmd represents the 'version' command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display the application version",
	Long:  `Display the application version, build date, Go runtime version and the size of the built-in CFOP registry.`,
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout())
	},
}

func printVersion(w io.Writer) {
	reg := cfop.DefaultRegistry()
	fmt.Fprintln(w, "NF-e Supplier Classifier")
	fmt.Fprintf(w, "Version:    %s\n", Version)
	fmt.Fprintf(w, "Build Date: %s\n", BuildDate)
	fmt.Fprintf(w, "Go Version: %s\n", runtime.Version())
	fmt.Fprintf(w, "Registry:   %d groups, %d codes\n", len(reg.Groups()), reg.Len())
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
