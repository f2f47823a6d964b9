package roster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/fieldsync/internal/coordinator"
	"github.com/taoyao-code/fieldsync/internal/radio"
)

func TestParseRoster(t *testing.T) {
	specs, err := Parse([]byte(`
nodes:
  - index: 0
    name: north
    address: 0x00E0
  - index: 1
    address: "226"
`))
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, coordinator.NodeSpec{Index: 0, Name: "north", Address: 0x00E0}, specs[0])
	assert.Equal(t, radio.Address(0x00E2), specs[1].Address)
}

func TestParseRosterErrors(t *testing.T) {
	cases := map[string]string{
		"empty":        "nodes: []",
		"bad address":  "nodes:\n  - index: 0\n    address: zz",
		"too wide":     "nodes:\n  - index: 0\n    address: 0x10000",
		"missing addr": "nodes:\n  - index: 0",
		"negative":     "nodes:\n  - index: -1\n    address: 0x01",
		"not yaml":     "nodes: [",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefaultAndFile(t *testing.T) {
	specs, err := Load("")
	require.NoError(t, err)
	assert.Len(t, specs, 10)
	assert.Equal(t, radio.Address(0x00E9), specs[9].Address)

	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodes:\n  - index: 4\n    address: 0x00E4\n"), 0o644))
	specs, err = Load(path)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, 4, specs[0].Index)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
