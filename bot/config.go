//nolint:lll // struct tags can't be split
package bot

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "COMMUNITY_BOT_ENV_PREFIX"
	DefaultEnvPrefix   = "CB"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "community-bot.sqlite3"
	DefaultLogLevel              = slog.LevelInfo
	DefaultDatabaseLogLevel      = slog.LevelWarn
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultAPILogLevel           = slog.LevelInfo
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultCommandPrefix          = "!"
	DefaultDiscordGatewayIntent   = discordgo.IntentsGuildMessages | discordgo.IntentsGuildMessageReactions | discordgo.IntentsDirectMessages
	DefaultDiscordCustomStatus    = "!help"
	DefaultDiscordStartupMessage  = "I'm here!"
	DefaultPaginationPageSize     = 10
	DefaultRepDailyAllowance      = 5
	DefaultHelpThreadIdleTTL      = 36 * time.Hour
	DefaultHelpThreadJanitorEvery = "@every 15m"

	DefaultAPIListen            = "127.0.0.1:5000"
	defaultListenNetwork        = "tcp"
	DefaultAPIReadTimeout       = 5 * time.Second
	DefaultAPIReadHeaderTimeout = 5 * time.Second
	DefaultAPIWriteTimeout      = 10 * time.Second
	DefaultAPIIdleTimeout       = 30 * time.Second
	DefaultAPISessionMaxAge     = 6 * time.Hour
)

// Config is the bot's static configuration, loaded once at startup from
// file/environment. Settings changeable at runtime live in
// [RuntimeConfig] instead.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Router configures command dispatch
	Router *RouterConfig `yaml:"router" mapstructure:"router" json:"router"`

	// Filters configures the message filter pipeline
	Filters *FilterConfig `yaml:"filters" mapstructure:"filters" json:"filters"`

	// HelpThreads configures help-thread bookkeeping
	HelpThreads *HelpThreadConfig `yaml:"help_threads" mapstructure:"help_threads" json:"help_threads"`

	// API configures the backend admin/status API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// StartupTimeout limits the time the bot has to initialize. If this
	// is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After
	// this elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord connection.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// ApplicationID is the discord application ID
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id"`

	// GuildID restricts the bot to a single guild when set
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Discord gateway intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus is set on connect; overridden by RuntimeConfig when set
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// StartupMessage is sent to the runtime-configured notification
	// channel on connect, when both are set.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	httpClient *http.Client
}

// RouterConfig configures command dispatch.
type RouterConfig struct {
	// Prefixes are the literal strings that must lead a message for it to
	// be considered a command invocation.
	Prefixes []string `yaml:"prefixes" mapstructure:"prefixes" json:"prefixes" binding:"min=1"`

	// OwnershipCapacity bounds the message-ownership tracker.
	OwnershipCapacity int `yaml:"ownership_capacity" mapstructure:"ownership_capacity" json:"ownership_capacity" binding:"min=0"`

	// PaginationTimeout is the idle lifetime of a pagination session.
	PaginationTimeout time.Duration `yaml:"pagination_timeout" mapstructure:"pagination_timeout" json:"pagination_timeout"`

	// PageSize is the number of list rows per pagination page.
	PageSize int `yaml:"page_size" mapstructure:"page_size" json:"page_size" binding:"min=1"`

	// RepDailyAllowance is the number of rep points one user can give out
	// per rolling 24h.
	RepDailyAllowance int `yaml:"rep_daily_allowance" mapstructure:"rep_daily_allowance" json:"rep_daily_allowance" binding:"min=1"`
}

// FilterConfig configures the message filter pipeline.
type FilterConfig struct {
	// BlockedWords trigger the profanity filter (delete + warn).
	BlockedWords []string `yaml:"blocked_words" mapstructure:"blocked_words" json:"blocked_words"`

	// DuplicateTrackerSize bounds the duplicate-spam filter's memory of
	// recent messages.
	DuplicateTrackerSize int `yaml:"duplicate_tracker_size" mapstructure:"duplicate_tracker_size" json:"duplicate_tracker_size" binding:"min=0"`
}

// HelpThreadConfig configures help-thread bookkeeping.
type HelpThreadConfig struct {
	// IdleTTL is how long a help thread can sit without activity before
	// the janitor resolves it.
	IdleTTL time.Duration `yaml:"idle_ttl" mapstructure:"idle_ttl" json:"idle_ttl"`

	// JanitorSchedule is the cron spec for the stale-thread sweep.
	JanitorSchedule string `yaml:"janitor_schedule" mapstructure:"janitor_schedule" json:"janitor_schedule"`
}

// APIConfig configures the backend admin/status API server.
type APIConfig struct {
	// Enabled determines whether the API server runs at all.
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen.
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	// Secret used for signing session cookies. Randomly generated at
	// startup when empty.
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true,min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true,min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true,min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true,min=1s"`

	// Max age for session cookies
	SessionMaxAge time.Duration `yaml:"session_max_age" mapstructure:"session_max_age" json:"session_max_age" binding:"required_if=Enabled true,min=10m,max=24h"`

	// Development relaxes the session cookie's SameSite attribute.
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// Validate checks the configuration using the `binding` struct tags.
func (c *Config) Validate() error {
	validate := validator.New()
	validate.SetTagName("binding")
	return validate.Struct(c)
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			LogLevel:       discordLogLevel,
			GatewayIntents: DefaultDiscordGatewayIntent,
			CustomStatus:   DefaultDiscordCustomStatus,
			StartupMessage: DefaultDiscordStartupMessage,
		},
		Router: &RouterConfig{
			Prefixes:          []string{DefaultCommandPrefix},
			OwnershipCapacity: DefaultOwnershipCapacity,
			PaginationTimeout: DefaultPaginationTimeout,
			PageSize:          DefaultPaginationPageSize,
			RepDailyAllowance: DefaultRepDailyAllowance,
		},
		Filters: &FilterConfig{
			BlockedWords:         []string{},
			DuplicateTrackerSize: 500,
		},
		HelpThreads: &HelpThreadConfig{
			IdleTTL:         DefaultHelpThreadIdleTTL,
			JanitorSchedule: DefaultHelpThreadJanitorEvery,
		},
		API: &APIConfig{
			Enabled:           false,
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadTimeout:       DefaultAPIReadTimeout,
			ReadHeaderTimeout: DefaultAPIReadHeaderTimeout,
			WriteTimeout:      DefaultAPIWriteTimeout,
			IdleTimeout:       DefaultAPIIdleTimeout,
			SessionMaxAge:     DefaultAPISessionMaxAge,
		},
	}
}
