package state

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/linecord/pkg/config"
	"github.com/tinyland-inc/linecord/pkg/store"
)

func TestNewStateCommand(t *testing.T) {
	cmd := NewStateCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "state", cmd.Use)
	assert.True(t, cmd.HasExample())
	assert.True(t, cmd.HasSubCommands())
	assert.Nil(t, cmd.RunE)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
		assert.NotNil(t, sub.RunE, sub.Name())
	}
	assert.True(t, names["show"])
	assert.True(t, names["clear-webhook"])
}

// setupState writes a config pointing at a fresh state file and seeds it.
func setupState(t *testing.T, seed map[string]string) (configPath, statePath string) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	statePath = filepath.Join(dir, "storage.json")
	cfg := config.DefaultConfig()
	cfg.State.Path = statePath
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	configPath = filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(configPath, data, 0o600))

	st, err := store.OpenFile(statePath)
	require.NoError(t, err)
	for k, v := range seed {
		require.NoError(t, st.Set(context.Background(), k, v))
	}
	require.NoError(t, st.Close())
	return configPath, statePath
}

func TestShowRedactsSecrets(t *testing.T) {
	configPath, _ := setupState(t, map[string]string{
		store.KeyAuthToken:      "secret-token-value",
		store.KeyDiscordWebhook: "https://discord.com/api/v9/webhooks/900/hooktoken",
	})

	cmd := NewStateCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"show", "--config", configPath})
	require.NoError(t, cmd.Execute())

	got := out.String()
	assert.Contains(t, got, "auth_token: secr****")
	assert.Contains(t, got, "discord_webhook: https://discord.com/api/v9/webhooks/900/****")
	assert.NotContains(t, got, "secret-token-value")
	assert.NotContains(t, got, "hooktoken")
}

func TestShowEmpty(t *testing.T) {
	configPath, _ := setupState(t, nil)

	cmd := NewStateCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"show", "--config", configPath})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "No state stored")
}

func TestClearWebhook(t *testing.T) {
	configPath, statePath := setupState(t, map[string]string{
		store.KeyAuthToken:      "tok",
		store.KeyDiscordWebhook: "https://discord.com/api/v9/webhooks/900/hooktoken",
	})

	cmd := NewStateCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"clear-webhook", "--config", configPath})
	require.NoError(t, cmd.Execute())

	st, err := store.OpenFile(statePath)
	require.NoError(t, err)
	defer st.Close()

	_, ok, err := st.Get(context.Background(), store.KeyDiscordWebhook)
	require.NoError(t, err)
	assert.False(t, ok)

	token, ok, err := st.Get(context.Background(), store.KeyAuthToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", token)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "****", redact(store.KeyAuthToken, "abc"))
	assert.Equal(t, "abcd****", redact(store.KeyAuthToken, "abcdefgh"))
	assert.Equal(t, "****", redact(store.KeyDiscordWebhook, "nourl"))
	assert.Equal(t, "plain", redact("other", "plain"))
}
