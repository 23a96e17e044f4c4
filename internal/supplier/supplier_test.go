package supplier

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ginjaninja78/nfe-classifier/internal/logger"
	"github.com/ginjaninja78/nfe-classifier/internal/relocate"
	"github.com/ginjaninja78/nfe-classifier/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ledgerRows = []types.LedgerEntry{
		{TaxID: "11.111.111/0001-11", AccumulatorCode: "10", AccumulatorName: "COMPRAS", SupplierCode: "77", SupplierName: "ACME Ltda."},
		{TaxID: "11111111000111", AccumulatorCode: "10", AccumulatorName: "COMPRAS", SupplierCode: "77", SupplierName: "ACME Ltda."},
		{TaxID: "22222222000122", AccumulatorCode: "30", AccumulatorName: "USO E CONSUMO", SupplierCode: "88", SupplierName: "Multi Peças"},
		{TaxID: "22222222000122", AccumulatorCode: "10", AccumulatorName: "COMPRAS", SupplierCode: "88", SupplierName: "Multi Peças"},
	}
	masterRows = []types.SupplierMasterEntry{
		{TaxID: "33333333000133", SupplierCode: "5", SupplierName: "Old Name"},
		{TaxID: "33333333000133", SupplierCode: "99", SupplierName: "Padaria São João"},
	}
)

func TestRoute_SingleGroup(t *testing.T) {
	c := NewClassifier(ledgerRows, masterRows, 0)

	r := c.Route("11111111000111", "whatever")
	assert.Equal(t, Classified, r.Outcome)
	assert.Equal(t, []string{ClassifiedDir, "10_COMPRAS", "77_ACME Ltda"}, r.Segments)
	assert.Equal(t, RuleSingleGroup, r.Rule)
	assert.Equal(t, "Fornecedores/10_COMPRAS/77_ACME Ltda", r.Category())
	assert.Empty(t, c.MultiGroups())
	assert.Empty(t, c.Renames())
}

func TestRoute_MultiGroupRecordedOnce(t *testing.T) {
	c := NewClassifier(ledgerRows, masterRows, 0)

	for i := 0; i < 3; i++ {
		r := c.Route("22222222000122", "")
		assert.Equal(t, MultiGroup, r.Outcome)
		assert.Equal(t, []string{MultiGroupDir, "88_Multi Pecas"}, r.Segments)
		assert.Equal(t, RuleMultiGroup, r.Rule)
	}

	assert.Equal(t, []types.MultiGroupRecord{
		{TaxID: "22222222000122", Supplier: "88_Multi Pecas", Accumulators: []string{"10", "30"}},
	}, c.MultiGroups())
}

func TestRoute_Unclassified(t *testing.T) {
	c := NewClassifier(ledgerRows, masterRows, 0)

	r := c.Route("333", "Padaria")
	assert.Equal(t, Unclassified, r.Outcome)
	assert.Equal(t, []string{UnclassifiedDir, "00000000000333"}, r.Segments)
	assert.Equal(t, RuleUnclassified, r.Rule)

	c.Route("33333333000133", "ignored, master wins")
	c.Route("44444444000144", "Mercado Bom Preço")
	c.Route("55555555000155", "")
	c.Route("00000000000333", "Padaria Central")

	assert.Equal(t, []Rename{
		{TaxID: "00000000000333", Base: "0000_Padaria Central"},
		{TaxID: "33333333000133", Base: "99_Padaria Sao Joao"},
		{TaxID: "44444444000144", Base: "0000_Mercado Bom Preco"},
		{TaxID: "55555555000155", Base: "0000_55555555000155"},
	}, c.Renames())
}

func TestRoute_NameLimit(t *testing.T) {
	c := NewClassifier([]types.LedgerEntry{
		{TaxID: "1", AccumulatorCode: "1", AccumulatorName: "A", SupplierCode: "2", SupplierName: "Fornecedor com nome longo"},
	}, nil, 10)
	assert.Equal(t, []string{ClassifiedDir, "1_A", "2_Fornecedor"}, c.Route("1", "").Segments)
}

// fakes

type issuers map[string][2]string

func (f issuers) Issuer(path string) (string, string, error) {
	v, ok := f[filepath.Base(path)]
	if !ok {
		return "", "", errors.New("no emit")
	}
	return v[0], v[1], nil
}

type recorder struct {
	mu       sync.Mutex
	records  []types.PlacementRecord
	failures []string
	skips    []string
	rules    []string
	renames  map[string]string
}

func (r *recorder) Record(rec types.PlacementRecord) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

func (r *recorder) RecordFailure(name string, _ error) {
	r.mu.Lock()
	r.failures = append(r.failures, name)
	r.mu.Unlock()
}

func (r *recorder) RecordSkipRule(name, rule string, _ error) {
	r.mu.Lock()
	r.skips = append(r.skips, name)
	r.rules = append(r.rules, rule)
	r.mu.Unlock()
}

func (r *recorder) RecordRename(from, to string) {
	r.mu.Lock()
	if r.renames == nil {
		r.renames = make(map[string]string)
	}
	r.renames[from] = to
	r.mu.Unlock()
}

type failingPlacer struct{ Placer }

func (f failingPlacer) Place(src, root string, segs []string) (string, error) {
	if filepath.Base(src) == "broken.xml" {
		return "", errors.New("read-only destination")
	}
	return f.Placer.Place(src, root, segs)
}

func stage(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	paths := make([]string, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("<NFe/>"), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func asDocs(paths []string) []types.Document {
	docs := make([]types.Document, len(paths))
	for i, p := range paths {
		docs[i] = types.Document{Path: p}
	}
	return docs
}

func TestRunner_Run(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	paths := stage(t, filepath.Join(dir, "deferred"),
		"single.xml", "multi-a.xml", "multi-b.xml", "lost.xml", "known.xml", "dup1.xml", "dup2.xml", "broken.xml")

	eng := relocate.New(relocate.Options{Log: logger.Nop()})
	rec := &recorder{}
	r := &Runner{
		Classifier: NewClassifier(ledgerRows, masterRows, 0),
		Placer:     failingPlacer{eng},
		Renamer:    eng,
		Issuers: issuers{
			"single.xml":  {"11111111000111", "ACME"},
			"multi-a.xml": {"22222222000122", "Multi"},
			"multi-b.xml": {"22222222000122", "Multi"},
			"known.xml":   {"33333333000133", "Padaria"},
			"dup1.xml":    {"66666666000166", "Loja X"},
			"dup2.xml":    {"77777777000177", "Loja X"},
			"broken.xml":  {"11111111000111", "ACME"},
		},
		Audit: rec,
		Log:   logger.Nop(),
	}

	st, err := r.Run(context.Background(), asDocs(paths), out)
	require.NoError(t, err)

	assert.Equal(t, Stats{Placed: 6, Skipped: 1, Failed: 1, Renamed: 3}, st)
	assert.Len(t, rec.records, 7, "broken.xml is recorded before its move fails")
	assert.Equal(t, []string{"lost.xml"}, rec.skips)
	assert.Equal(t, []string{"R1"}, rec.rules, "the skip keeps the deferral rule")
	assert.Equal(t, map[string]string{
		"SemGrupo/33333333000133": "SemGrupo/99_Padaria Sao Joao",
		"SemGrupo/66666666000166": "SemGrupo/0000_Loja X",
		"SemGrupo/77777777000177": "SemGrupo/0000_Loja X_1",
	}, rec.renames)
	assert.Equal(t, []string{"broken.xml"}, rec.failures)

	assert.FileExists(t, filepath.Join(out, ClassifiedDir, "10_COMPRAS", "77_ACME Ltda", "single.xml"))
	assert.FileExists(t, filepath.Join(out, MultiGroupDir, "88_Multi Pecas", "multi-a.xml"))
	assert.FileExists(t, filepath.Join(out, MultiGroupDir, "88_Multi Pecas", "multi-b.xml"))
	assert.FileExists(t, filepath.Join(out, UnclassifiedDir, "99_Padaria Sao Joao", "known.xml"))
	assert.FileExists(t, filepath.Join(out, UnclassifiedDir, "0000_Loja X", "dup1.xml"))
	assert.FileExists(t, filepath.Join(out, UnclassifiedDir, "0000_Loja X_1", "dup2.xml"))

	assert.FileExists(t, paths[3], "skipped document stays in place")
	assert.FileExists(t, paths[7], "failed document stays in place")
	assert.NoDirExists(t, filepath.Join(out, UnclassifiedDir, "66666666000166"))
}

func TestRunner_RenameFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	paths := stage(t, filepath.Join(dir, "deferred"), "a.xml")

	eng := relocate.New(relocate.Options{Log: logger.Nop()})
	c := NewClassifier(nil, nil, 0)
	c.Route("99999999000199", "Ghost")

	r := &Runner{
		Classifier: c,
		Placer:     eng,
		Renamer:    eng,
		Issuers:    issuers{"a.xml": {"88888888000188", "Loja"}},
		Audit:      &recorder{},
		Log:        logger.Nop(),
	}

	st, err := r.Run(context.Background(), asDocs(paths), out)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Placed)
	assert.Equal(t, 1, st.Renamed)
	assert.Equal(t, 1, st.RenameFailures, "the ghost tax id never got a folder")
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Runner{Classifier: NewClassifier(nil, nil, 0), Audit: &recorder{}, Log: logger.Nop()}
	_, err := r.Run(ctx, asDocs([]string{"x.xml"}), t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}
