// =============================================================================
// NF-e Supplier Classifier - Main Entry Point
// =============================================================================
//
// USAGE:
//   nfe-classifier classify   - Classify the documents of an input directory
//   nfe-classifier serve      - Run the HTTP job endpoint
//   nfe-classifier registry   - Print or check the CFOP registry
//   nfe-classifier version    - Display the application version
//
// ARCHITECTURE:
//   - cmd/       : CLI command definitions (Cobra)
//   - internal/  : classification stages, lookups, relocation, audit, server
//   - pkg/       : file discovery, staging, archives and bundle upload
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/nfe-classifier/cmd"
)

func main() {
	cmd.Execute()
}
