package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/typescript-community/community-bot-sub000/bot"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	// Clear the environment before the test
	os.Clearenv()

	tmpdir := t.TempDir()

	// Set up the test environment file
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

CB_DATABASE=/home/foo/community-bot.sqlite3
CB_DATABASE_TYPE=sqlite
CB_DATABASE_LOG_LEVEL=INFO
CB_DATABASE_SLOW_THRESHOLD=200ms
CB_LOG_LEVEL=INFO
CB_STARTUP_TIMEOUT=30s
CB_SHUTDOWN_TIMEOUT=60s

# Discord bot config

CB_DISCORD_TOKEN=your-discord-bot-token
CB_DISCORD_APPLICATION_ID=your-discord-bot-app-id
CB_DISCORD_GUILD_ID=
CB_DISCORD_LOG_LEVEL=WARN
CB_DISCORD_STARTUP_MESSAGE="I'm here!"
CB_DISCORD_GATEWAY_INTENTS=13827
CB_DISCORD_CUSTOM_STATUS=!help

# Command routing

CB_ROUTER_PREFIXES=! ?
CB_ROUTER_OWNERSHIP_CAPACITY=3000
CB_ROUTER_PAGINATION_TIMEOUT=10m
CB_ROUTER_PAGE_SIZE=10
CB_ROUTER_REP_DAILY_ALLOWANCE=5

# Filters

CB_FILTERS_DUPLICATE_TRACKER_SIZE=500

# Help threads

CB_HELP_THREADS_IDLE_TTL=36h

# API server

CB_API_ENABLED=true
CB_API_LISTEN=127.0.0.1:5000
CB_API_SECRET=your-api-secret
CB_API_LOG_LEVEL=DEBUG
CB_API_READ_TIMEOUT=5s
CB_API_READ_HEADER_TIMEOUT=5s
CB_API_WRITE_TIMEOUT=10s
CB_API_IDLE_TIMEOUT=30s
CB_API_SESSION_MAX_AGE=6h
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/community-bot.sqlite3", cfg.Database)
	assert.Equal(
		t,
		"/home/foo/community-bot.sqlite3",
		viper.GetString("database"),
	)
	assert.Equal(t, "sqlite", viper.GetString("database_type"))

	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))

	assert.Equal(
		t,
		200*time.Millisecond,
		viper.GetDuration("database_slow_threshold"),
	)
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))

	assert.Equal(t, "your-discord-bot-token", viper.GetString("discord.token"))
	assert.Equal(
		t,
		"your-discord-bot-app-id",
		viper.GetString("discord.application_id"),
	)
	assert.Equal(t, "", viper.GetString("discord.guild_id"))

	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
	assert.Equal(t, "I'm here!", viper.GetString("discord.startup_message"))
	assert.Equal(t, 13827, viper.GetInt("discord.gateway_intents"))

	assert.Equal(t, []string{"!", "?"}, viper.GetStringSlice("router.prefixes"))
	assert.Equal(t, 3000, viper.GetInt("router.ownership_capacity"))
	assert.Equal(
		t,
		10*time.Minute,
		viper.GetDuration("router.pagination_timeout"),
	)
	assert.Equal(t, 10, viper.GetInt("router.page_size"))
	assert.Equal(t, 5, viper.GetInt("router.rep_daily_allowance"))

	assert.Equal(t, 500, viper.GetInt("filters.duplicate_tracker_size"))
	assert.Equal(t, 36*time.Hour, viper.GetDuration("help_threads.idle_ttl"))

	assert.True(t, viper.GetBool("api.enabled"))
	assert.Equal(t, "127.0.0.1:5000", viper.GetString("api.listen"))
	assert.Equal(t, "your-api-secret", viper.GetString("api.secret"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_timeout"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_header_timeout"))
	assert.Equal(t, 10*time.Second, viper.GetDuration("api.write_timeout"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("api.idle_timeout"))
	assert.Equal(t, 6*time.Hour, viper.GetDuration("api.session_max_age"))

	// Unmarshal the configuration into a bot.Config struct
	var config bot.Config
	err = viper.Unmarshal(
		&config, viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
	assert.NoError(t, err)

	// Verify some key fields in the Config struct
	assert.Equal(t, "/home/foo/community-bot.sqlite3", config.Database)
	assert.Equal(t, "sqlite", config.DatabaseType)
	assert.Equal(t, slog.LevelInfo, config.DatabaseLogLevel.Level())
	assert.Equal(t, 200*time.Millisecond, config.DatabaseSlowThreshold)
	assert.Equal(t, slog.LevelInfo, config.LogLevel.Level())
	assert.Equal(t, 30*time.Second, config.StartupTimeout)
	assert.Equal(t, 60*time.Second, config.ShutdownTimeout)

	assert.Equal(t, "your-discord-bot-token", config.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", config.Discord.ApplicationID)
	assert.Equal(t, "", config.Discord.GuildID)
	assert.Equal(t, slog.LevelWarn, config.Discord.LogLevel.Level())
	assert.Equal(t, "I'm here!", config.Discord.StartupMessage)
	assert.Equal(t, discordgo.Intent(13827), config.Discord.GatewayIntents)

	assert.Equal(t, []string{"!", "?"}, config.Router.Prefixes)
	assert.Equal(t, 3000, config.Router.OwnershipCapacity)
	assert.Equal(t, 10*time.Minute, config.Router.PaginationTimeout)
	assert.Equal(t, 10, config.Router.PageSize)
	assert.Equal(t, 5, config.Router.RepDailyAllowance)

	assert.True(t, config.API.Enabled)
	assert.Equal(t, "127.0.0.1:5000", config.API.Listen)
	assert.Equal(t, "your-api-secret", config.API.Secret)
	assert.Equal(t, slog.LevelDebug, config.API.LogLevel.Level())
	assert.Equal(t, 6*time.Hour, config.API.SessionMaxAge)
}
