package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sysprov/pvm/errors"
)

func TestResolveAutoDetectsWorkers(t *testing.T) {
	c := Config{Mode: ModeAuto}
	resolved, err := c.Resolve()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resolved.Workers, 1)
}

func TestResolveManualKeepsWorkers(t *testing.T) {
	c := Config{Mode: ModeManual, Workers: 3}
	resolved, err := c.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 3, resolved.Workers)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing mode", Config{}},
		{"unknown mode", Config{Mode: "turbo"}},
		{"manual without workers", Config{Mode: ModeManual}},
		{"negative workers", Config{Mode: ModeAuto, Workers: -1}},
		{"persistence without target", Config{Mode: ModeAuto, Persistence: &Persistence{}}},
		{"secret without principal", Config{Mode: ModeAuto, Persistence: &Persistence{Target: "x.db", Secret: "s"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.cfg.Resolve()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConfig))
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pvm.toml")
	content := `
mode = "manual"
workers = 2
strict_mode = true

[persistence]
target = "prov.db"
namespace = "trace-a"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ModeManual, c.Mode)
	assert.Equal(t, 2, c.Workers)
	assert.True(t, c.StrictMode)
	require.NotNil(t, c.Persistence)
	assert.Equal(t, "prov.db", c.Persistence.Target)
	assert.Equal(t, "trace-a", c.Persistence.Namespace)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestLoadEmptyPersistenceTableMeansNone(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	assert.Nil(t, c.Persistence)
}
