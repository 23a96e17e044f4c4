// =============================================================================
// NF-e Supplier Classifier - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Every other command
// (classify, serve, registry, version) is attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (nfe-classifier)
//   ├── classifyCmd (nfe-classifier classify)
//   ├── serveCmd    (nfe-classifier serve)
//   ├── registryCmd (nfe-classifier registry)
//   └── versionCmd  (nfe-classifier version)
//
// CONFIGURATION:
//   The root command owns the global flags (--config, --verbose). Commands
//   that need the configuration call loadConfig, which also installs the
//   root logger.
//
// EXIT STATUS:
//   0  success
//   1  any fatal error
//   2  no archive or document found in the input directory
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/nfe-classifier/internal/config"
	"github.com/ginjaninja78/nfe-classifier/internal/faults"
	"github.com/ginjaninja78/nfe-classifier/internal/logger"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
// This can be overridden using the --config flag.
var cfgFile string

// verbose forces debug logging when set to true.
var verbose bool

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nfe-classifier",
	Short: "NF-e Supplier Classifier - Sort invoice XML documents into supplier folders",
	Long: `NF-e Supplier Classifier sorts a folder of NF-e documents (loose .xml files
or .zip archives) into a folder hierarchy.

Documents are first sorted by their CFOP codes. Documents whose codes are not
enough to decide are then sorted by issuer, using the period ledger and the
supplier master of the accounting database.

Key Features:
  - CFOP group registry, built in or loaded from YAML
  - Supplier lookup over PostgreSQL, SQLite or an XLSX snapshot
  - Path-length safe relocation with collision suffixes
  - Multi-group supplier report (MultiGrupo_Summary.xlsx)
  - Zip bundle of the result, optionally uploaded to Cloud Storage

Example Usage:
  nfe-classifier classify --input-dir ./xml --empresa 1 --data-ini 2024-01-01 --data-fim 2024-01-31
  nfe-classifier serve --config ./config.yaml
  nfe-classifier registry --check`,

	SilenceUsage:  true,
	SilenceErrors: true,

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command and exits with the status matching the error.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case faults.Is(err, faults.NoInputFound):
		return 2
	default:
		return 1
	}
}

// loadConfig reads the main configuration (defaults when the file is
// missing) and installs the root logger from it.
func loadConfig() (*config.MainConfig, error) {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config: %w", err)
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logger.Init(logger.Options{Level: level, Format: cfg.LogFormat})
	return cfg, nil
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	// --config flag: Allows the user to specify a custom configuration file.
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		config.DefaultPath,
		"Path to the main configuration file (defaults apply when it does not exist)",
	)

	// --verbose flag: Enables debug logging.
	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable verbose output for debugging",
	)
}
