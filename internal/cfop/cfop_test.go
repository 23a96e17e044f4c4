package cfop

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestClassify_DefaultRegistry(t *testing.T) {
	c := NewClassifier(DefaultRegistry())

	tests := []struct {
		name     string
		codes    []string
		category string
		rule     string
		deferred bool
	}{
		{"singleton known", []string{"5910"}, "BONIFICAÇÕES E BRINDES", RuleSingleton, false},
		{"singleton unknown", []string{"9999"}, DeferCategory, RuleDefer, true},
		{"unknown among known", []string{"5910", "6910", "5102"}, DeferCategory, RuleDefer, true},
		{"two groups", []string{"5910", "5920"}, DefaultCatchAll, RuleAmbiguous, false},
		{"single group", []string{"5351", "6352", "7358"}, "TRANSPORTE", RuleSingleGroup, false},
		{"catch-all group only", []string{"5949", "6949"}, DefaultCatchAll, RuleSingleGroup, false},
		{"catch-all singleton", []string{"5949"}, DefaultCatchAll, RuleSingleton, false},
		{"catch-all plus other group", []string{"5949", "5910"}, DefaultCatchAll, RuleAmbiguous, false},
		{"duplicates collapse to singleton", []string{"5915", "5915"}, "CONSERTOS", RuleSingleton, false},
		{"empty set", nil, DefaultCatchAll, RuleAmbiguous, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Classify(tt.codes)
			assert.Equal(t, tt.category, d.Category)
			assert.Equal(t, tt.rule, d.Rule)
			assert.Equal(t, tt.deferred, d.Deferred)
		})
	}
}

func TestClassify_AlternateRegistry(t *testing.T) {
	reg, err := NewRegistry([]Group{
		{Name: "A", Codes: []string{"1"}},
		{Name: "OTHER", Codes: []string{"9"}},
	}, "OTHER")
	require.NoError(t, err)

	c := NewClassifier(reg)
	assert.Equal(t, Decision{Category: "A", Rule: RuleSingleton}, c.Classify([]string{"1"}))
	assert.Equal(t, Decision{Category: "OTHER", Rule: RuleAmbiguous}, c.Classify([]string{"1", "9"}))
	assert.True(t, c.Classify([]string{"5910"}).Deferred, "default codes are unknown to this registry")
}

func TestClassify_SingleUnknownAlwaysDefers(t *testing.T) {
	c := NewClassifier(DefaultRegistry())
	known := []string{"5910", "5920", "5351", "5949", "5201"}
	for i := range known {
		codes := append([]string{"0000"}, known[:i+1]...)
		d := c.Classify(codes)
		assert.Equal(t, RuleDefer, d.Rule, "codes %v", codes)
	}
}

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry(nil, "X")
	assert.Error(t, err)

	_, err = NewRegistry([]Group{{Name: "A", Codes: []string{"1"}}}, "")
	assert.Error(t, err)

	reg, err := NewRegistry([]Group{{Name: "A", Codes: []string{"1"}}}, "B")
	require.NoError(t, err, "the catch-all need not be a group")
	assert.Equal(t, "B", reg.CatchAll())
	assert.True(t, reg.Known("1"))
	assert.Equal(t, Decision{Category: "B", Rule: RuleAmbiguous}, NewClassifier(reg).Classify(nil))

	_, err = NewRegistry([]Group{{Name: " ", Codes: []string{"1"}}, {Name: "B"}}, "B")
	assert.Error(t, err)
}

func TestRegistry_FirstGroupWinsAndDuplicates(t *testing.T) {
	reg, err := NewRegistry([]Group{
		{Name: "A", Codes: []string{"1", "2"}},
		{Name: "B", Codes: []string{"2", "3"}},
	}, "B")
	require.NoError(t, err)

	g, ok := reg.GroupOf("2")
	require.True(t, ok)
	assert.Equal(t, "A", g)
	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, map[string][]string{"2": {"A", "B"}}, reg.Duplicates())
}

func TestDefaultRegistry_IsPartition(t *testing.T) {
	reg := DefaultRegistry()
	assert.Empty(t, reg.Duplicates())
	assert.Len(t, reg.Groups(), 11)
	assert.True(t, reg.Known("7667"))
	assert.False(t, reg.Known("5102"))
}

func TestLoadRegistry_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	data, err := yaml.Marshal(DefaultRegistry())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultRegistry().Groups(), reg.Groups())
	assert.Equal(t, DefaultCatchAll, reg.CatchAll())
}

func TestLoadRegistry_DefaultsCatchAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
groups:
  - name: OUTRAS
    codes: ["5949"]
  - name: FRETE
    codes: ["5351", " 6351 "]
`), 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	g, ok := reg.GroupOf("6351")
	require.True(t, ok)
	assert.Equal(t, "FRETE", g)
	assert.Equal(t, DefaultCatchAll, reg.CatchAll())
}

func TestLoadRegistry_Errors(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("groups: [:"), 0o644))
	_, err = LoadRegistry(path)
	assert.Error(t, err)
}
