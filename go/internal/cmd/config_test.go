package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codebid/go/internal/models"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "STARTING_COINS", "BID_DURATION_SEC", "ANSWER_DURATION_SEC", "BID_COOLDOWN_MS",
		"JWT_SECRET", "TOKEN_TTL_MIN", "STORE_DRIVER", "NATS_URL", "ADMIN_EMAIL", "ADMIN_PASSWORD_HASH",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")

	config, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", config.Server.Port)
	assert.Equal(t, "postgres", config.Store.Driver)
	assert.Equal(t, models.StartingCoins, config.Game.StartingCoins)
	assert.Equal(t, 30*time.Second, config.roundConfig().BidDuration)
	assert.Equal(t, 60*time.Second, config.roundConfig().AnswerDuration)
	assert.Equal(t, 1500*time.Millisecond, config.bidCooldown())
	assert.Equal(t, 12*time.Hour, config.tokenTTL())
	assert.Equal(t, 400, config.rewardPolicy().Rewards[models.CategoryHard])
	assert.True(t, config.rewardPolicy().EliminateAtZero)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	clearConfigEnv(t)
	path := writeConfig(t, `
server:
  port: "9000"
game:
  starting_coins: 1500
  bid_duration_sec: 20
  rewards:
    Easy: 50
    Medium: 150
    Hard: 300
auth:
  jwt_secret: from-file
  admins:
    - email: host@example.com
      password_hash: "$2a$10$abcdefghijklmnopqrstuv"
store:
  driver: memory
`)
	t.Setenv("PORT", "9100")
	t.Setenv("ADMIN_EMAIL", "second@example.com")
	t.Setenv("ADMIN_PASSWORD_HASH", "$2a$10$zyxwvutsrqponmlkjihgfe")

	config, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", config.Server.Port)
	assert.Equal(t, 1500, config.Game.StartingCoins)
	assert.Equal(t, 20*time.Second, config.roundConfig().BidDuration)
	assert.Equal(t, 60*time.Second, config.roundConfig().AnswerDuration)
	assert.Equal(t, 150, config.rewardPolicy().Rewards[models.CategoryMedium])
	assert.Equal(t, "from-file", config.Auth.JWTSecret)
	assert.Equal(t, "memory", config.Store.Driver)
	require.Len(t, config.Auth.Admins, 2)
	assert.Equal(t, "second@example.com", config.Auth.Admins[1].Email)
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "missing secret", yaml: "store:\n  driver: memory\n"},
		{name: "unknown driver", env: map[string]string{"JWT_SECRET": "x", "STORE_DRIVER": "sqlite"}},
		{name: "zero coins", env: map[string]string{"JWT_SECRET": "x", "STARTING_COINS": "0"}},
		{name: "negative reward", yaml: "game:\n  rewards:\n    Easy: -5\n", env: map[string]string{"JWT_SECRET": "x"}},
		{name: "admin without hash", env: map[string]string{"JWT_SECRET": "x", "ADMIN_EMAIL": "host@example.com"}},
		{name: "malformed yaml", yaml: "game: [", env: map[string]string{"JWT_SECRET": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), "missing.yaml")
			if tt.yaml != "" {
				path = writeConfig(t, tt.yaml)
			}
			_, err := loadConfig(path)
			assert.Error(t, err)
		})
	}
}
