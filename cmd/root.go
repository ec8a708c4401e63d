package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/typescript-community/community-bot-sub000/bot"
)

var (
	cfg        = bot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "community-bot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", bot.DefaultDatabase)
	viper.SetDefault("database_type", bot.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		bot.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		bot.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", bot.DefaultLogLevel.String())
	viper.SetDefault("api.log_level", bot.DefaultAPILogLevel.String())

	viper.SetDefault("startup_timeout", bot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", bot.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		bot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		bot.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault("discord.custom_status", bot.DefaultDiscordCustomStatus)
	viper.SetDefault(
		"discord.startup_message",
		bot.DefaultDiscordStartupMessage,
	)

	// Router config
	viper.SetDefault("router.prefixes", []string{bot.DefaultCommandPrefix})
	viper.SetDefault(
		"router.ownership_capacity",
		bot.DefaultOwnershipCapacity,
	)
	viper.SetDefault(
		"router.pagination_timeout",
		bot.DefaultPaginationTimeout,
	)
	viper.SetDefault("router.page_size", bot.DefaultPaginationPageSize)
	viper.SetDefault(
		"router.rep_daily_allowance",
		bot.DefaultRepDailyAllowance,
	)

	// Filter config
	viper.SetDefault("filters.blocked_words", []string{})
	viper.SetDefault("filters.duplicate_tracker_size", 500)

	// Help thread config
	viper.SetDefault("help_threads.idle_ttl", bot.DefaultHelpThreadIdleTTL)
	viper.SetDefault(
		"help_threads.janitor_schedule",
		bot.DefaultHelpThreadJanitorEvery,
	)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", bot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.session_max_age", bot.DefaultAPISessionMaxAge)
	viper.SetDefault("api.read_timeout", bot.DefaultAPIReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		bot.DefaultAPIReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", bot.DefaultAPIWriteTimeout)
	viper.SetDefault("api.idle_timeout", bot.DefaultAPIIdleTimeout)
	viper.SetDefault("api.development", false)

	envPrefix := os.Getenv(bot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = bot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"router.prefixes",
		viper.GetStringSlice("router.prefixes"),
	)
	viper.Set(
		"filters.blocked_words",
		viper.GetStringSlice("filters.blocked_words"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
