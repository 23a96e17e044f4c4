// =============================================================================
// NF-e Supplier Classifier - Shared Types
// =============================================================================
//
// This package contains the data model shared by the classification stages,
// the relocation engine and the audit reporter. Keeping it here avoids import
// cycles between:
//   - cfop      (Stage-1)
//   - supplier  (Stage-2)
//   - audit
//   - ledger
//
// =============================================================================

package types

// =============================================================================
// DOCUMENT
// =============================================================================

// Document is a single electronic invoice found in the input.
// Its identity is the source path; everything else is extracted once and
// never changed afterwards.
type Document struct {
	// Path is where the document currently lives (staging copy).
	Path string

	// Codes is the set of transaction codes (CFOP) found in the document,
	// sorted and without duplicates. May be empty.
	Codes []string

	// IssuerTaxID is the normalized 14-digit tax id of the issuer.
	// Empty when it has not been extracted (Stage-1 documents) or extraction failed.
	IssuerTaxID string

	// IssuerName is the sanitized display name of the issuer.
	IssuerName string
}

// =============================================================================
// EXTERNAL LOOKUP ROWS
// =============================================================================

// LedgerEntry is one (issuer, accumulator) pair observed in the period ledger.
// Several entries may share the same TaxID when a supplier was booked under
// more than one accumulator.
type LedgerEntry struct {
	TaxID           string
	AccumulatorCode string
	AccumulatorName string
	SupplierCode    string
	SupplierName    string
}

// SupplierMasterEntry is a supplier from the full master, independent of the
// queried period. There is at most one entry per TaxID.
type SupplierMasterEntry struct {
	TaxID        string
	SupplierCode string
	SupplierName string
}

// =============================================================================
// AUDIT RECORDS
// =============================================================================

// PlacementRecord is the append-only audit entry written when a document's
// destination is decided. It is written before the physical move.
type PlacementRecord struct {
	// FileName is the base name of the document.
	FileName string

	// Category is the destination decided for the document, e.g.
	// "TRANSPORTE" or "Fornecedores/10_COMPRAS/77_ACME".
	Category string

	// Rule is the identifier of the rule that produced the decision.
	Rule string
}

// MultiGroupRecord describes a supplier whose period transactions span more
// than one accumulator.
type MultiGroupRecord struct {
	TaxID string

	// Supplier is the "<code>_<name>" label used for the folder.
	Supplier string

	// Accumulators holds the distinct accumulator codes, sorted.
	Accumulators []string
}
