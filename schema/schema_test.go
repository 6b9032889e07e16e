package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesOnlyDefinedKeys(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "genl.toml"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, "demo", s.Family.Name)
	assert.Equal(t, uint16(2048), s.Family.ID)
	assert.Equal(t, def.Family.CmdRequest, s.Family.CmdRequest)
	assert.Equal(t, def.Family.AttrMax, s.Family.AttrMax)
	assert.Equal(t, uint32(4242), s.Ports.Command)
	assert.Equal(t, def.Ports.Event, s.Ports.Event)
	assert.Equal(t, uint32(0x00a0c6), s.Vendor.OUI)
	assert.Equal(t, uint32(12), s.Vendor.ParamSplitMAC)
	assert.Equal(t, def.Vendor.AttrGenericData, s.Vendor.AttrGenericData)
}

func TestLoadRejects(t *testing.T) {
	dir := t.TempDir()

	for name, content := range map[string]string{
		"unknown-key": "[family]\nnmae = \"x\"\n",
		"newer":       "version = 99\n",
		"long-name":   "[family]\nname = \"a-very-long-family-name\"\n",
		"payload":     "[family]\nattr_payload = 5\nattr_max = 2\n",
		"syntax":      "[family\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".toml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
