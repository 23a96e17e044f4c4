package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/nfe-classifier/internal/cfop"
	"github.com/ginjaninja78/nfe-classifier/internal/config"
	"github.com/ginjaninja78/nfe-classifier/internal/faults"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 1, exitCode(faults.New(faults.LookupUnavailable, "open lookup", "", "down")))
	assert.Equal(t, 2, exitCode(faults.New(faults.NoInputFound, "discover input", "/in", "empty")))
	assert.Equal(t, 2, exitCode(fmt.Errorf("run: %w", faults.New(faults.NoInputFound, "", "", "empty"))))
}

func TestRunClassify(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "entrada")
	require.NoError(t, os.MkdirAll(in, 0o755))
	doc := `<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe"><NFe><infNFe>` +
		`<emit><CNPJ>1</CNPJ><xNome>T</xNome></emit>` +
		`<det><prod><CFOP>5351</CFOP></prod></det></infNFe></NFe></nfeProc>`
	require.NoError(t, os.WriteFile(filepath.Join(in, "frete.xml"), []byte(doc), 0o644))

	var out bytes.Buffer
	err := runClassify(context.Background(), &out, config.Default(), classifyFlags{
		inputDir: in, company: "1", dateFrom: "01/01/2024", dateTo: "2024-01-31", workers: 1,
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "ZIP_OK:"))
	zipPath := strings.TrimPrefix(lines[0], "ZIP_OK:")
	assert.True(t, filepath.IsAbs(zipPath))
	assert.FileExists(t, zipPath)
	assert.Equal(t, "Concluido. Resultados em: "+filepath.Join(root, "ARQUIVOS CLASSIFICADOS"), lines[1])
	assert.FileExists(t, filepath.Join(root, "ARQUIVOS CLASSIFICADOS", "TRANSPORTE", "frete.xml"))
}

func TestRunClassify_Errors(t *testing.T) {
	empty := t.TempDir()

	tests := []struct {
		name    string
		flags   classifyFlags
		wantMsg string
		noInput bool
	}{
		{"bad start", classifyFlags{inputDir: empty, dateFrom: "2024/01/01", dateTo: "2024-01-31"}, "--data-ini", false},
		{"bad end", classifyFlags{inputDir: empty, dateFrom: "2024-01-01", dateTo: "31-01-2024"}, "--data-fim", false},
		{"reversed period", classifyFlags{inputDir: empty, dateFrom: "2024-02-01", dateTo: "2024-01-31"}, "before", false},
		{"no input", classifyFlags{inputDir: empty, dateFrom: "2024-01-01", dateTo: "2024-01-31"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := runClassify(context.Background(), &out, config.Default(), tt.flags)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, tt.noInput, faults.Is(err, faults.NoInputFound))
			assert.Empty(t, out.String(), "nothing is signaled on failure")
		})
	}
}

func TestPrintRegistry(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printRegistry(&out, cfop.DefaultRegistry(), false, true))
	assert.Contains(t, out.String(), "TRANSPORTE")
	assert.Contains(t, out.String(), "(catch-all)")
	assert.Contains(t, out.String(), "OK: every code belongs to exactly one group")

	reg, err := cfop.NewRegistry([]cfop.Group{
		{Name: "A", Codes: []string{"1", "2"}},
		{Name: "B", Codes: []string{"2"}},
	}, "A")
	require.NoError(t, err)
	out.Reset()
	err = printRegistry(&out, reg, false, true)
	require.Error(t, err)
	assert.Contains(t, out.String(), "DUPLICATE 2: A, B")
}

func TestPrintRegistry_YAMLRoundTrip(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printRegistry(&out, cfop.DefaultRegistry(), true, false))

	path := filepath.Join(t.TempDir(), "cfop.yaml")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	reg, err := cfop.LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, cfop.DefaultRegistry().Groups(), reg.Groups())
	assert.Equal(t, cfop.DefaultCatchAll, reg.CatchAll())
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	printVersion(&out)
	assert.Contains(t, out.String(), "Version:    "+Version)
	assert.Contains(t, out.String(), "Registry:   11 groups, 140 codes")
}
