package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketdesk/internal/actions"
	"ticketdesk/internal/config"
)

func TestLoadConfigAppliesOverrides(t *testing.T) {
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)
	require.NoError(t, os.WriteFile(path, []byte("drafts:\n  author: desk@example.com\n"), 0o644))

	viper.Set("config", path)
	viper.Set("gateway", "http://mail.test/api")
	viper.Set("drafts-mode", "local")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://mail.test/api", cfg.Gateway.BaseURL)
	assert.Equal(t, config.DraftsLocal, cfg.Drafts.Mode)
	assert.Equal(t, "desk@example.com", cfg.Drafts.Author)
}

func TestLoadConfigRejectsBadOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("config", filepath.Join(t.TempDir(), "missing.yml"))
	viper.Set("drafts-mode", "telepathy")

	_, err := loadConfig()
	assert.Error(t, err)
}

func TestNewDeskWiring(t *testing.T) {
	t.Cleanup(viper.Reset)
	cfg := config.Default()
	cfg.Drafts.Mode = config.DraftsLocal
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")

	d, err := newDesk(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	assert.IsType(t, actions.LocalDrafter{}, d.Actions.Drafter)
	assert.Equal(t, cfg.Drafts.Author, d.Actions.Author)
	require.NotNil(t, d.Journal)
	assert.Equal(t, "customer_service", d.Registry.Default().Name)

	cfg = config.Default()
	cfg.Gateway.Timeout = 3 * time.Second
	d2, err := newDesk(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, d2.Gateway.HTTPClient)
	assert.Equal(t, 3*time.Second, d2.Gateway.HTTPClient.Timeout)
	assert.IsType(t, actions.GatewayDrafter{}, d2.Actions.Drafter)
	assert.Nil(t, d2.Journal)
	assert.Nil(t, d2.Actions.Journal)
}
