package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/codebid/go/internal/auction/bid"
	"github.com/mcdev12/codebid/go/internal/auction/reward"
	"github.com/mcdev12/codebid/go/internal/auction/round"
	"github.com/mcdev12/codebid/go/internal/auth"
	"github.com/mcdev12/codebid/go/internal/models"
)

// Config is the game and server configuration. Values come from
// config.yaml when present; environment variables override them.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Game struct {
		StartingCoins     int                     `yaml:"starting_coins"`
		BidDurationSec    int                     `yaml:"bid_duration_sec"`
		AnswerDurationSec int                     `yaml:"answer_duration_sec"`
		BidCooldownMs     int                     `yaml:"bid_cooldown_ms"`
		Rewards           map[models.Category]int `yaml:"rewards"`
		EliminateAtZero   bool                    `yaml:"eliminate_at_zero"`
	} `yaml:"game"`

	Auth struct {
		JWTSecret   string       `yaml:"jwt_secret"`
		TokenTTLMin int          `yaml:"token_ttl_min"`
		Admins      []auth.Admin `yaml:"admins"`
	} `yaml:"auth"`

	Store struct {
		Driver string `yaml:"driver"` // postgres, mongodb or memory
	} `yaml:"store"`

	Relay struct {
		NATSURL       string `yaml:"nats_url"`
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"relay"`
}

func defaultConfig() *Config {
	var c Config
	rounds := round.DefaultConfig()
	policy := reward.DefaultPolicy()

	c.Server.Port = "8080"
	c.Game.StartingCoins = models.StartingCoins
	c.Game.BidDurationSec = int(rounds.BidDuration / time.Second)
	c.Game.AnswerDurationSec = int(rounds.AnswerDuration / time.Second)
	c.Game.BidCooldownMs = int(bid.DefaultCooldown / time.Millisecond)
	c.Game.Rewards = policy.Rewards
	c.Game.EliminateAtZero = policy.EliminateAtZero
	c.Auth.TokenTTLMin = int(auth.DefaultTokenTTL / time.Minute)
	c.Store.Driver = "postgres"
	return &c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads path if it exists, then applies environment overrides.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Server.Port = getEnv("PORT", config.Server.Port)
	config.Game.StartingCoins = getEnvAsInt("STARTING_COINS", config.Game.StartingCoins)
	config.Game.BidDurationSec = getEnvAsInt("BID_DURATION_SEC", config.Game.BidDurationSec)
	config.Game.AnswerDurationSec = getEnvAsInt("ANSWER_DURATION_SEC", config.Game.AnswerDurationSec)
	config.Game.BidCooldownMs = getEnvAsInt("BID_COOLDOWN_MS", config.Game.BidCooldownMs)
	config.Auth.JWTSecret = getEnv("JWT_SECRET", config.Auth.JWTSecret)
	config.Auth.TokenTTLMin = getEnvAsInt("TOKEN_TTL_MIN", config.Auth.TokenTTLMin)
	config.Store.Driver = strings.ToLower(getEnv("STORE_DRIVER", config.Store.Driver))
	config.Relay.NATSURL = getEnv("NATS_URL", config.Relay.NATSURL)

	// A single admin can come from the environment alone.
	if email := os.Getenv("ADMIN_EMAIL"); email != "" {
		config.Auth.Admins = append(config.Auth.Admins, auth.Admin{
			Email:        email,
			PasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		})
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Game.StartingCoins <= 0 {
		return fmt.Errorf("starting coins must be positive, got %d", c.Game.StartingCoins)
	}
	if c.Game.BidDurationSec <= 0 || c.Game.AnswerDurationSec <= 0 {
		return errors.New("bid and answer durations must be positive")
	}
	for _, a := range c.Auth.Admins {
		if a.Email == "" || a.PasswordHash == "" {
			return fmt.Errorf("admin %q needs an email and a password hash", a.Email)
		}
	}
	switch c.Store.Driver {
	case "postgres", "mongodb", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return c.rewardPolicy().Validate()
}

func (c *Config) roundConfig() round.Config {
	return round.Config{
		BidDuration:    time.Duration(c.Game.BidDurationSec) * time.Second,
		AnswerDuration: time.Duration(c.Game.AnswerDurationSec) * time.Second,
	}
}

func (c *Config) rewardPolicy() reward.Policy {
	return reward.Policy{
		Rewards:         c.Game.Rewards,
		EliminateAtZero: c.Game.EliminateAtZero,
	}
}

func (c *Config) bidCooldown() time.Duration {
	return time.Duration(c.Game.BidCooldownMs) * time.Millisecond
}

func (c *Config) tokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMin) * time.Minute
}
