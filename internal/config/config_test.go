package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://localhost:3000/api", cfg.Gateway.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, "@every 5m", cfg.Refresh.Schedule)
	assert.Equal(t, 3, cfg.Refresh.BootstrapAttempts)
	assert.Equal(t, 2*time.Second, cfg.Refresh.BootstrapDelay)
	assert.Equal(t, "mixtral-8x7b-32768", cfg.LLM.Model)
	assert.Equal(t, DraftsGateway, cfg.Drafts.Mode)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, "customer_service", reg.Default().Name)
	assert.Len(t, reg.Profiles(), 3)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
gateway:
  base_url: http://mail.internal/api
refresh:
  schedule: "*/10 * * * *"
drafts:
  mode: local
knowledge_base:
  hours: Open 9-5 CET
`))
	require.NoError(t, err)
	assert.Equal(t, "http://mail.internal/api", cfg.Gateway.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, "*/10 * * * *", cfg.Refresh.Schedule)
	assert.Equal(t, DraftsLocal, cfg.Drafts.Mode)
	assert.Equal(t, "Open 9-5 CET", cfg.KnowledgeBase["hours"])
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad schedule":    "refresh:\n  schedule: sometimes\n",
		"zero attempts":   "refresh:\n  bootstrap_attempts: 0\n",
		"unknown mode":    "drafts:\n  mode: carrier-pigeon\n",
		"unknown default": "agents:\n  default: billing\n",
		"duplicate agent": "agents:\n  profiles:\n    - name: customer_service\n    - name: customer_service\n",
		"empty gateway":   "gateway:\n  base_url: \"\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("drafts:\n  author: desk@example.com\n"), 0o644))
	cfg, err = LoadOptional(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, "desk@example.com", cfg.Drafts.Author)
}

func TestMarshalRoundTrips(t *testing.T) {
	out, err := Marshal(Default())
	require.NoError(t, err)
	cfg, err := FromYAML(out)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	_, err := FromFile(Path(dir))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(Path(dir), []byte("refresh:\n  bootstrap_attempts: 0\n"), 0o644))
	_, err = FromFile(Path(dir))
	assert.Error(t, err)
	_, err = LoadOptional(Path(dir))
	assert.Error(t, err)
}

func TestPathDefaultsToWorkingDir(t *testing.T) {
	assert.Equal(t, FileName, Path(""))
	assert.Equal(t, filepath.Join("etc", FileName), Path("etc"))
}
