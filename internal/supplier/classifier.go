// =============================================================================
// NF-e Supplier Classifier - Stage-2 (supplier identity)
// =============================================================================
//
// Documents deferred by Stage-1 are routed by the identity of their issuer.
// The classifier is built once per run from two lookup results:
//   - the period ledger:   tax id -> every (accumulator, supplier) row
//   - the supplier master: tax id -> supplier code and name
//
// ROUTES:
//   Fornecedores/<acu>/<supplier>  one distinct accumulator in the period
//   MultiGrupo/<supplier>          two or more accumulators, recorded for review
//   SemGrupo/<tax id>              not in the ledger, renamed after the batch
//
// The classifier holds the multi-group records and the pending renames as
// explicit state. It does not touch the filesystem.
//
// =============================================================================

package supplier

import (
	"sort"
	"strings"
	"sync"

	"github.com/ginjaninja78/nfe-classifier/internal/nfe"
	"github.com/ginjaninja78/nfe-classifier/internal/types"
)

// Folder names of the Stage-2 branches.
const (
	ClassifiedDir   = "Fornecedores"
	MultiGroupDir   = "MultiGrupo"
	UnclassifiedDir = "SemGrupo"
)

// UnknownSupplierCode prefixes the folder of a supplier missing from the master.
const UnknownSupplierCode = "0000"

// Rule identifiers written into placement records for Stage-2 decisions.
const (
	RuleSingleGroup  = "S2-SINGLE"
	RuleMultiGroup   = "S2-MULTI"
	RuleUnclassified = "S2-NONE"
)

// Outcome is the branch a deferred document was routed to.
type Outcome int

const (
	Classified Outcome = iota
	MultiGroup
	Unclassified
)

func (o Outcome) String() string {
	switch o {
	case Classified:
		return "classified"
	case MultiGroup:
		return "multi-group"
	case Unclassified:
		return "unclassified"
	}
	return "unknown"
}

// Route is where a deferred document goes.
type Route struct {
	Outcome  Outcome
	Segments []string
	Rule     string
}

// Category is the slash-joined destination used in placement records.
func (r Route) Category() string {
	return strings.Join(r.Segments, "/")
}

// Rename is a pending SemGrupo folder rename.
type Rename struct {
	TaxID string
	Base  string
}

type accumulator struct {
	code string
	name string
}

// =============================================================================
// CLASSIFIER
// =============================================================================

// Classifier routes deferred documents by issuer tax id.
type Classifier struct {
	ledger    map[string][]types.LedgerEntry
	master    map[string]types.SupplierMasterEntry
	nameLimit int

	mu           sync.Mutex
	multi        map[string]*types.MultiGroupRecord
	pending      map[string]string
	pendingOrder []string
}

// NewClassifier indexes the lookup results by normalized tax id.
//
// PARAMETERS:
//   - ledger: Period ledger rows. Several rows may share a tax id.
//   - master: Supplier master rows. A repeated tax id keeps the last row.
//   - nameLimit: Maximum length of cleaned supplier names (0 = default).
func NewClassifier(ledger []types.LedgerEntry, master []types.SupplierMasterEntry, nameLimit int) *Classifier {
	if nameLimit <= 0 {
		nameLimit = nfe.DefaultNameLimit
	}
	c := &Classifier{
		ledger:    make(map[string][]types.LedgerEntry),
		master:    make(map[string]types.SupplierMasterEntry, len(master)),
		nameLimit: nameLimit,
		multi:     make(map[string]*types.MultiGroupRecord),
		pending:   make(map[string]string),
	}
	for _, e := range ledger {
		id := nfe.NormalizeTaxID(e.TaxID)
		c.ledger[id] = append(c.ledger[id], e)
	}
	for _, m := range master {
		c.master[nfe.NormalizeTaxID(m.TaxID)] = m
	}
	return c
}

// Route decides the destination of a document issued by taxID.
// issuerName is the cleaned name extracted from the document; it is only used
// when the tax id is missing from both lookups.
func (c *Classifier) Route(taxID, issuerName string) Route {
	taxID = nfe.NormalizeTaxID(taxID)
	entries := c.ledger[taxID]

	if len(entries) == 0 {
		c.mu.Lock()
		if _, seen := c.pending[taxID]; !seen {
			c.pendingOrder = append(c.pendingOrder, taxID)
		}
		c.pending[taxID] = issuerName
		c.mu.Unlock()
		return Route{
			Outcome:  Unclassified,
			Segments: []string{UnclassifiedDir, taxID},
			Rule:     RuleUnclassified,
		}
	}

	accs := distinctAccumulators(entries)
	sup := c.label(entries[0].SupplierCode, entries[0].SupplierName)

	if len(accs) == 1 {
		return Route{
			Outcome:  Classified,
			Segments: []string{ClassifiedDir, c.label(accs[0].code, accs[0].name), sup},
			Rule:     RuleSingleGroup,
		}
	}

	c.mergeMulti(taxID, sup, accs)
	return Route{
		Outcome:  MultiGroup,
		Segments: []string{MultiGroupDir, sup},
		Rule:     RuleMultiGroup,
	}
}

func (c *Classifier) mergeMulti(taxID, sup string, accs []accumulator) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.multi[taxID]
	if !ok {
		rec = &types.MultiGroupRecord{TaxID: taxID, Supplier: sup}
		c.multi[taxID] = rec
	}
	codes := make([]string, 0, len(rec.Accumulators)+len(accs))
	codes = append(codes, rec.Accumulators...)
	for _, a := range accs {
		codes = append(codes, a.code)
	}
	rec.Accumulators = sortedDistinct(codes)
}

// MultiGroups returns one record per multi-group supplier, ordered by tax id.
func (c *Classifier) MultiGroups() []types.MultiGroupRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.MultiGroupRecord, 0, len(c.multi))
	for _, rec := range c.multi {
		r := *rec
		r.Accumulators = append([]string(nil), rec.Accumulators...)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaxID < out[j].TaxID })
	return out
}

// Renames returns the SemGrupo folders to rename, in the order their tax ids
// were first routed. The base name comes from the supplier master when the
// tax id is there, otherwise from the issuer name with the 0000 code.
func (c *Classifier) Renames() []Rename {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Rename, 0, len(c.pendingOrder))
	for _, id := range c.pendingOrder {
		var base string
		if m, ok := c.master[id]; ok {
			base = c.label(m.SupplierCode, m.SupplierName)
		} else {
			name := c.clean(c.pending[id])
			if name == "" {
				name = id
			}
			base = UnknownSupplierCode + "_" + name
		}
		out = append(out, Rename{TaxID: id, Base: base})
	}
	return out
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// label builds the "<code>_<name>" folder label.
func (c *Classifier) label(code, name string) string {
	code = strings.TrimSpace(code)
	name = c.clean(name)
	switch {
	case code == "":
		return name
	case name == "":
		return code
	}
	return code + "_" + name
}

func (c *Classifier) clean(s string) string {
	return nfe.CleanName(s, c.nameLimit)
}

// distinctAccumulators keeps the first occurrence of each (code, name) pair.
func distinctAccumulators(entries []types.LedgerEntry) []accumulator {
	seen := make(map[accumulator]struct{}, len(entries))
	out := make([]accumulator, 0, len(entries))
	for _, e := range entries {
		a := accumulator{code: strings.TrimSpace(e.AccumulatorCode), name: strings.TrimSpace(e.AccumulatorName)}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func sortedDistinct(in []string) []string {
	set := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := set[s]; ok {
			continue
		}
		set[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
