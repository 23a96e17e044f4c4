package pipeline

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/nfe-classifier/internal/audit"
	"github.com/ginjaninja78/nfe-classifier/internal/config"
	"github.com/ginjaninja78/nfe-classifier/internal/faults"
	"github.com/ginjaninja78/nfe-classifier/internal/ledger"
	"github.com/ginjaninja78/nfe-classifier/internal/logger"
	"github.com/ginjaninja78/nfe-classifier/internal/types"
)

func nfeXML(cnpj, name string, codes ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe"><NFe><infNFe>`)
	fmt.Fprintf(&b, `<emit><CNPJ>%s</CNPJ><xNome>%s</xNome></emit>`, cnpj, name)
	for i, c := range codes {
		fmt.Fprintf(&b, `<det nItem="%d"><prod><CFOP>%s</CFOP></prod></det>`, i+1, c)
	}
	b.WriteString(`</infNFe></NFe></nfeProc>`)
	return b.String()
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for n, body := range entries {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

type fakeSource struct {
	ledger []types.LedgerEntry
	master []types.SupplierMasterEntry
	err    error

	mu      sync.Mutex
	company string
	from    time.Time
	to      time.Time
	calls   int
	closed  bool
}

func (f *fakeSource) PeriodLedger(_ context.Context, company string, from, to time.Time) ([]types.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.company, f.from, f.to = company, from, to
	return f.ledger, f.err
}

func (f *fakeSource) SupplierMaster(context.Context, string) ([]types.SupplierMasterEntry, error) {
	return f.master, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func opener(src ledger.Source) LookupOpener {
	return func(context.Context) (ledger.Source, error) { return src, nil }
}

func testConfig() *config.MainConfig {
	c := config.Default()
	c.Workers = 3
	return c
}

// layout builds <root>/entrada with a representative mix and returns it.
func layout(t *testing.T) (root, in string) {
	root = t.TempDir()
	in = filepath.Join(root, "entrada")

	// Stage-1
	writeFile(t, filepath.Join(in, "frete.xml"), nfeXML("1", "Transp", "5351"))
	writeFile(t, filepath.Join(in, "mix.xml"), nfeXML("1", "Mix", "5351", "5910"))
	writeFile(t, filepath.Join(in, "vazio.xml"), nfeXML("1", "Vazio"))
	writeFile(t, filepath.Join(in, "quebrado.xml"), "<nfeProc><NFe>")

	// Stage-2
	writeZip(t, filepath.Join(in, "lote.zip"), map[string]string{
		"acme.xml":  nfeXML("11.111.111/0001-11", "ACME Ltda", "1102"),
		"multi.xml": nfeXML("22222222000122", "Multi Pecas", "1102", "5351"),
	})
	writeFile(t, filepath.Join(in, "sub", "padaria.xml"), nfeXML("33333333000133", "Padaria Sao Joao", "1556"))
	writeFile(t, filepath.Join(in, "sub", "novo.xml"), nfeXML("44444444000144", "Fornecedor Novo", "2102"))
	return root, in
}

func lookups() *fakeSource {
	return &fakeSource{
		ledger: []types.LedgerEntry{
			{TaxID: "11111111000111", AccumulatorCode: "10", AccumulatorName: "COMPRAS", SupplierCode: "77", SupplierName: "ACME Ltda"},
			{TaxID: "22222222000122", AccumulatorCode: "10", AccumulatorName: "COMPRAS", SupplierCode: "88", SupplierName: "Multi Pecas"},
			{TaxID: "22222222000122", AccumulatorCode: "30", AccumulatorName: "USO E CONSUMO", SupplierCode: "88", SupplierName: "Multi Pecas"},
		},
		master: []types.SupplierMasterEntry{
			{TaxID: "33333333000133", SupplierCode: "99", SupplierName: "Padaria Sao Joao"},
		},
	}
}

func TestRun_EndToEnd(t *testing.T) {
	root, in := layout(t)
	src := lookups()
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	res, err := Run(context.Background(), Options{
		InputDir:   in,
		Company:    "1",
		From:       from,
		To:         to,
		Config:     testConfig(),
		OpenLookup: opener(src),
		TempDir:    t.TempDir(),
		Log:        logger.Nop(),
	})
	require.NoError(t, err)

	out := filepath.Join(root, "ARQUIVOS CLASSIFICADOS")
	assert.Equal(t, out, res.OutputDir)
	assert.NotEmpty(t, res.RunID)

	assert.Equal(t, 8, res.Documents)
	assert.Equal(t, 3, res.Stage1)
	assert.Equal(t, 4, res.Deferred)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 4, res.Stage2.Placed)
	assert.Equal(t, 2, res.Stage2.Renamed)
	assert.Empty(t, res.Failures)
	assert.Equal(t, res.Documents-res.Skipped, res.Placed(), "every readable document lands exactly once")

	assert.FileExists(t, filepath.Join(out, "TRANSPORTE", "frete.xml"))
	assert.FileExists(t, filepath.Join(out, "OUTRAS", "mix.xml"))
	assert.FileExists(t, filepath.Join(out, "OUTRAS", "vazio.xml"))
	assert.FileExists(t, filepath.Join(out, "Fornecedores", "10_COMPRAS", "77_ACME Ltda", "acme.xml"))
	assert.FileExists(t, filepath.Join(out, "MultiGrupo", "88_Multi Pecas", "multi.xml"))
	assert.FileExists(t, filepath.Join(out, "SemGrupo", "99_Padaria Sao Joao", "padaria.xml"))
	assert.FileExists(t, filepath.Join(out, "SemGrupo", "0000_Fornecedor Novo", "novo.xml"))
	assert.NoDirExists(t, filepath.Join(out, "PASSAR PARA CLASSIFICADOR"))

	assert.Equal(t, filepath.Join(out, audit.MultiGroupFile), res.MultiGroupFile)
	assert.Equal(t, 1, res.MultiGroups)
	assert.FileExists(t, res.MultiGroupFile)
	assert.FileExists(t, res.SummaryFile)

	assert.Equal(t, 1, src.calls, "lookups are fetched once per run")
	assert.Equal(t, "1", src.company)
	assert.Equal(t, from, src.from)
	assert.Equal(t, to, src.to)
	assert.True(t, src.closed)

	assert.Equal(t, root, filepath.Dir(res.Archive))
	zr, err := zip.OpenReader(res.Archive)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "TRANSPORTE/frete.xml")
	assert.Contains(t, names, "Fornecedores/10_COMPRAS/77_ACME Ltda/acme.xml")

	assert.FileExists(t, filepath.Join(in, "frete.xml"), "input is never modified")
	assert.FileExists(t, filepath.Join(in, "lote.zip"))
}

func TestRun_NoInput(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "entrada")
	writeFile(t, filepath.Join(in, "leia-me.txt"), "nada")

	_, err := Run(context.Background(), Options{InputDir: in, Config: testConfig(), TempDir: t.TempDir(), Log: logger.Nop()})
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.NoInputFound))
	assert.NoDirExists(t, filepath.Join(root, "ARQUIVOS CLASSIFICADOS"))

	_, err = Run(context.Background(), Options{InputDir: filepath.Join(root, "missing"), Config: testConfig(), Log: logger.Nop()})
	assert.True(t, faults.Is(err, faults.NoInputFound))
}

func TestRun_ArchiveWithoutDocuments(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "entrada")
	require.NoError(t, os.MkdirAll(in, 0o755))
	writeZip(t, filepath.Join(in, "lote.zip"), map[string]string{"leia-me.txt": "x"})

	_, err := Run(context.Background(), Options{InputDir: in, Config: testConfig(), TempDir: t.TempDir(), Log: logger.Nop()})
	assert.True(t, faults.Is(err, faults.NoInputFound))
	assert.NoDirExists(t, filepath.Join(root, "ARQUIVOS CLASSIFICADOS"))
}

func TestRun_LookupOnlyWhenDeferred(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "entrada")
	writeFile(t, filepath.Join(in, "frete.xml"), nfeXML("1", "Transp", "5351"))

	called := false
	res, err := Run(context.Background(), Options{
		InputDir: in,
		Config:   testConfig(),
		OpenLookup: func(context.Context) (ledger.Source, error) {
			called = true
			return nil, errors.New("unreachable")
		},
		TempDir: t.TempDir(),
		Log:     logger.Nop(),
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Empty(t, res.MultiGroupFile)
	assert.NoFileExists(t, filepath.Join(res.OutputDir, audit.MultiGroupFile))
	assert.FileExists(t, res.Archive)
}

func TestRun_LookupUnavailableHalts(t *testing.T) {
	root, in := layout(t)

	res, err := Run(context.Background(), Options{
		InputDir: in,
		Config:   testConfig(),
		OpenLookup: opener(&fakeSource{err: errors.New("connection refused")}),
		TempDir:  t.TempDir(),
		Log:      logger.Nop(),
	})
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.LookupUnavailable))
	require.NotNil(t, res)

	out := filepath.Join(root, "ARQUIVOS CLASSIFICADOS")
	assert.FileExists(t, filepath.Join(out, "TRANSPORTE", "frete.xml"), "stage-1 output stays in place")
	assert.Empty(t, res.Archive)

	matches, _ := filepath.Glob(filepath.Join(root, "classificados_*.zip"))
	assert.Empty(t, matches)
}

func TestRun_StagingRemoved(t *testing.T) {
	_, in := layout(t)
	tmp := t.TempDir()

	_, err := Run(context.Background(), Options{
		InputDir:   in,
		Config:     testConfig(),
		OpenLookup: opener(lookups()),
		TempDir:    tmp,
		Log:        logger.Nop(),
	})
	require.NoError(t, err)

	left, err := filepath.Glob(filepath.Join(tmp, StagingPrefix+"*"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

// xmlLeaves maps each .xml base name under dir to the folders holding it.
func xmlLeaves(t *testing.T, dir string) map[string][]string {
	t.Helper()
	leaves := make(map[string][]string)
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".xml") {
			rel, err := filepath.Rel(dir, filepath.Dir(p))
			if err != nil {
				return err
			}
			leaves[d.Name()] = append(leaves[d.Name()], filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	return leaves
}

func TestRun_EveryDocumentOnDiskOnce(t *testing.T) {
	_, in := layout(t)
	tmp := t.TempDir()

	res, err := Run(context.Background(), Options{
		InputDir:   in,
		Config:     testConfig(),
		OpenLookup: opener(lookups()),
		TempDir:    tmp,
		Log:        logger.Nop(),
	})
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{
		"frete.xml":   {"TRANSPORTE"},
		"mix.xml":     {"OUTRAS"},
		"vazio.xml":   {"OUTRAS"},
		"acme.xml":    {"Fornecedores/10_COMPRAS/77_ACME Ltda"},
		"multi.xml":   {"MultiGrupo/88_Multi Pecas"},
		"padaria.xml": {"SemGrupo/99_Padaria Sao Joao"},
		"novo.xml":    {"SemGrupo/0000_Fornecedor Novo"},
	}, xmlLeaves(t, res.OutputDir), "the unreadable document is the only one missing")

	staged, err := filepath.Glob(filepath.Join(tmp, StagingPrefix+"*"))
	require.NoError(t, err)
	assert.Empty(t, staged, "no staged copy outlives the run")

	body, err := os.ReadFile(res.SummaryFile)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "Deferred (R1):        4")
	assert.Contains(t, text, "SemGrupo/44444444000144 -> SemGrupo/0000_Fornecedor Novo")
	assert.Contains(t, text, "SemGrupo/33333333000133 -> SemGrupo/99_Padaria Sao Joao")
}

func TestRun_Cancelled(t *testing.T) {
	_, in := layout(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, Options{InputDir: in, Config: testConfig(), OpenLookup: opener(lookups()), TempDir: t.TempDir(), Log: logger.Nop()})
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingUploader struct {
	path string
	err  error
}

func (u *recordingUploader) Upload(_ context.Context, p string) (string, error) {
	u.path = p
	if u.err != nil {
		return "", u.err
	}
	return "gs://bundles/" + filepath.Base(p), nil
}

func TestRun_Upload(t *testing.T) {
	_, in := layout(t)

	up := &recordingUploader{}
	res, err := Run(context.Background(), Options{
		InputDir: in, Config: testConfig(), OpenLookup: opener(lookups()),
		Uploader: up, TempDir: t.TempDir(), Log: logger.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, res.Archive, up.path)
	assert.Equal(t, "gs://bundles/"+filepath.Base(res.Archive), res.UploadURI)

	_, in = layout(t)
	res, err = Run(context.Background(), Options{
		InputDir: in, Config: testConfig(), OpenLookup: opener(lookups()),
		Uploader: &recordingUploader{err: errors.New("denied")}, TempDir: t.TempDir(), Log: logger.Nop(),
	})
	require.NoError(t, err, "a failed upload does not fail the run")
	assert.Empty(t, res.UploadURI)
}

func TestLoadRegistry(t *testing.T) {
	reg, err := LoadRegistry(testConfig())
	require.NoError(t, err)
	g, ok := reg.GroupOf("5351")
	assert.True(t, ok)
	assert.Equal(t, "TRANSPORTE", g)

	path := filepath.Join(t.TempDir(), "cfop.yaml")
	writeFile(t, path, "catch_all: OUTRAS\ngroups:\n  - name: FRETE\n    codes: [\"5351\"]\n")
	cfg := testConfig()
	cfg.RegistryFile = path
	reg, err = LoadRegistry(cfg)
	require.NoError(t, err)
	g, _ = reg.GroupOf("5351")
	assert.Equal(t, "FRETE", g)
}
