package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/typescript-community/community-bot-sub000/bot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout

	// userCacheSize bounds the in-memory read-through cache of User rows.
	userCacheSize = 2000
)

// Bot is the main application struct: it owns the discord connection,
// the command router, the filter pipeline, the interactive-message
// constructs, the reminder runner and the persistence layer, and wires
// gateway events into each of them.
//
// All registries (commands, filters, reaction handlers) are explicit
// state owned by the Bot instance and built at startup - no ambient
// static state, so tests can construct isolated instances.
type Bot struct {
	config *Config

	// Read-only GORM connection.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations. When using
	// sqlite, a mutex serializes writes.
	writeDB DBI

	logger     *slog.Logger
	logHandler slog.Handler

	discord     *Discord
	router      *Router
	filters     *FilterPipeline
	reactions   *ReactionDispatcher
	ownership   *OwnershipTracker
	paginator   *Paginator
	reminders   *ReminderRunner
	helpThreads *HelpThreadManager
	api         *API

	// Bounded read-through cache of User rows.
	userCache *LimitedSizeMap[string, *User]

	// Runtime-configurable settings - things you may want to change
	// without restarting the bot.
	runtimeConfig *RuntimeConfig
	cfgMu         sync.RWMutex

	paused atomic.Bool

	// signalStop enables an explicit stop signal, such as from the
	// `/api/quit` endpoint.
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished
	// initializing: DB connected, reminders re-armed, discord session
	// open, handlers registered.
	signalReady chan struct{}

	// A signal is sent on this channel when shutdown finishes.
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	startedAt time.Time

	removeHandlerFuncs []func()
}

// New creates and initializes a Bot from the given config: logging,
// discord wrapper, and signal channels. The database connection and
// gateway session are established by Run.
func New(config *Config) (*Bot, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logHandler := newLogHandler(defaultLogWriter, config.LogLevel)
	logger := slog.New(logHandler).With(loggerNameKey, "bot")

	b := &Bot{
		config:        config,
		logger:        logger,
		logHandler:    logHandler,
		userCache:     NewLimitedSizeMap[string, *User](userCacheSize),
		signalStop:    make(chan struct{}, 1),
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
	}

	b.discord = newDiscord(config.Discord)
	b.discord.logger = slog.New(logHandler).With(loggerNameKey, "discord")
	b.discord.b = b
	if config.HTTPClient != nil {
		config.Discord.httpClient = config.HTTPClient
	}

	session, err := b.discord.newSession()
	if err != nil {
		return nil, err
	}
	b.discord.session = session

	if config.API.Enabled {
		api, apiErr := newAPI(b, config.API)
		if apiErr != nil {
			return nil, apiErr
		}
		b.api = api
	}

	return b, nil
}

// RuntimeConfig returns a copy of the current runtime configuration.
func (b *Bot) RuntimeConfig() RuntimeConfig {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	if b.runtimeConfig == nil {
		return DefaultRuntimeConfig()
	}
	return *b.runtimeConfig
}

// setRuntimeConfig replaces the cached runtime config and applies any
// side effects (paused flag, custom status).
func (b *Bot) setRuntimeConfig(rc RuntimeConfig) {
	b.cfgMu.Lock()
	b.runtimeConfig = &rc
	b.cfgMu.Unlock()
	b.paused.Store(rc.Paused)
}

// Pause stops command dispatch (filters still run). Returns false if the
// bot was already paused.
func (b *Bot) Pause(ctx context.Context) bool {
	if b.paused.Swap(true) {
		return false
	}
	rc := b.RuntimeConfig()
	rc.Paused = true
	b.cfgMu.Lock()
	b.runtimeConfig = &rc
	b.cfgMu.Unlock()
	if _, err := b.writeDB.Update(ctx, &rc, "paused", true); err != nil {
		b.logger.Error("error persisting paused state", tint.Err(err))
	}
	return true
}

// Resume re-enables command dispatch. Returns false if the bot wasn't
// paused.
func (b *Bot) Resume(ctx context.Context) bool {
	if !b.paused.Swap(false) {
		return false
	}
	rc := b.RuntimeConfig()
	rc.Paused = false
	b.cfgMu.Lock()
	b.runtimeConfig = &rc
	b.cfgMu.Unlock()
	if _, err := b.writeDB.Update(ctx, &rc, "paused", false); err != nil {
		b.logger.Error("error persisting paused state", tint.Err(err))
	}
	return true
}

// Paused reports whether command dispatch is paused.
func (b *Bot) Paused() bool {
	return b.paused.Load()
}

// Run starts the bot and blocks until ctx is cancelled or a stop signal
// is received, then shuts down gracefully.
func (b *Bot) Run(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	b.startedAt = time.Now()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	if err := b.initDB(startCtx); err != nil {
		return err
	}
	b.initComponents()
	if err := b.registerCommands(); err != nil {
		return err
	}

	if err := b.reminders.Start(startCtx); err != nil {
		return err
	}
	if err := b.helpThreads.StartJanitor(); err != nil {
		return err
	}

	b.removeHandlerFuncs = append(
		b.removeHandlerFuncs,
		b.discord.session.AddHandler(b.discord.handlerReady()),
		b.discord.session.AddHandler(b.discord.handlerDisconnect()),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				b.handleMessageCreate(ctx, m)
			},
		),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
				b.handleReactionAdd(r)
			},
		),
	)

	if err := b.discord.session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}
	b.logger.Info("Connected", "started_at", b.startedAt)
	b.notifyStartup(ctx)

	var apiErrCh chan error
	if b.api != nil {
		apiErrCh = make(chan error, 1)
		go func() {
			apiErrCh <- b.api.Serve(ctx)
		}()
	}

	select {
	case b.signalReady <- struct{}{}:
	default:
	}

	select {
	case <-ctx.Done():
		b.logger.Info("context cancelled, shutting down")
	case <-b.signalStop:
		b.logger.Info("stop signal received, shutting down")
	}

	err := b.shutdown()
	if apiErrCh != nil {
		if apiErr := <-apiErrCh; apiErr != nil &&
			!errors.Is(apiErr, context.Canceled) {
			b.logger.Error("api server error", tint.Err(apiErr))
		}
	}
	select {
	case b.eventShutdown <- struct{}{}:
	default:
	}
	return err
}

// Stop signals Run to begin a graceful shutdown.
func (b *Bot) Stop() {
	select {
	case b.signalStop <- struct{}{}:
	default:
	}
}

// initDB connects to the store, migrates, and loads the runtime config
// row (creating it on first run).
func (b *Bot) initDB(ctx context.Context) error {
	db, err := CreateDB(ctx, b.config.DatabaseType, b.config.Database)
	if err != nil {
		return fmt.Errorf("error creating database: %w", err)
	}
	b.db = db
	b.writeDB = NewDatabase(
		db,
		slog.New(b.logHandler),
		b.config.DatabaseType != dbTypeSQLite,
	)

	var rc RuntimeConfig
	err = db.WithContext(ctx).Last(&rc).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("error loading runtime config: %w", err)
		}
		rc = DefaultRuntimeConfig()
		if _, err = b.writeDB.Create(ctx, &rc); err != nil {
			return fmt.Errorf("error creating runtime config: %w", err)
		}
	}
	b.setRuntimeConfig(rc)
	return nil
}

// initComponents wires the core constructs to the (already-created)
// session and DB.
func (b *Bot) initComponents() {
	log := slog.New(b.logHandler)
	session := b.discord.session

	b.reactions = NewReactionDispatcher(log)
	b.ownership = NewOwnershipTracker(
		session,
		b.reactions,
		b.config.Router.OwnershipCapacity,
		log,
	)
	b.paginator = NewPaginator(
		session,
		b.reactions,
		b.config.Router.PaginationTimeout,
		log,
	)
	b.router = NewRouter(
		b.config.Router.Prefixes,
		session,
		b.permissionChecker(),
		b.ownership,
		b.paginator,
		log,
	)
	b.router.SetSoftCommand(b.softCommandLookup)

	b.filters = NewFilterPipeline(session, log)
	b.filters.Register(NewProfanityFilter(b.config.Filters.BlockedWords))
	b.filters.Register(
		NewDuplicateSpamFilter(b.config.Filters.DuplicateTrackerSize, 0),
	)

	b.reminders = NewReminderRunner(session, b.writeDB, log)
	b.helpThreads = NewHelpThreadManager(
		session,
		b.db,
		b.writeDB,
		b.config.HelpThreads,
		log,
	)
}

// permissionChecker delegates permission lookups to the discord session.
func (b *Bot) permissionChecker() PermissionChecker {
	return func(m *discordgo.MessageCreate, permission int64) bool {
		type permissionsSource interface {
			UserChannelPermissions(
				userID string,
				channelID string,
				fetchOptions ...discordgo.RequestOption,
			) (int64, error)
		}
		src, ok := b.discord.session.(permissionsSource)
		if !ok {
			return false
		}
		perms, err := src.UserChannelPermissions(m.Author.ID, m.ChannelID)
		if err != nil {
			b.logger.Warn(
				"error resolving member permissions",
				tint.Err(err),
				"user_id", m.Author.ID,
				"channel_id", m.ChannelID,
			)
			return false
		}
		return perms&permission == permission
	}
}

// notifyStartup sends the configured startup message to the runtime
// notification channel, if both are set.
func (b *Bot) notifyStartup(ctx context.Context) {
	rc := b.RuntimeConfig()
	if rc.NotificationChannelID == "" || b.config.Discord.StartupMessage == "" {
		return
	}
	_, err := b.discord.session.ChannelMessageSend(
		rc.NotificationChannelID,
		b.config.Discord.StartupMessage,
		discordgo.WithContext(ctx),
		discordgo.WithRetryOnRatelimit(false),
	)
	if err != nil {
		b.logger.Error("unable to send startup message", tint.Err(err))
	}
}

// thanksPattern matches messages like "thanks @user" / "thank you @user".
var thanksPattern = regexp.MustCompile(`(?i)\bthanks?(?:\s+you)?\b`)

// handleMessageCreate is the single inbound message path: every message
// fans out to the filter pipeline unconditionally, then goes to the
// command router, the thanks matcher, and help-thread activity
// bookkeeping. Routing decisions happen in arrival order; handler bodies
// run concurrently.
func (b *Bot) handleMessageCreate(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	author := messageAuthor(m.Message)
	if author == nil || author.Bot {
		return
	}
	if botID := b.discord.botUserID(); botID != "" && author.ID == botID {
		return
	}
	if m.Author == nil {
		m.Author = author
	}
	if b.config.Discord.GuildID != "" && m.GuildID != "" &&
		m.GuildID != b.config.Discord.GuildID {
		return
	}

	b.filters.OnMessage(m)

	user, err := b.getOrCreateUser(ctx, *author)
	if err != nil {
		b.logger.Error("error upserting user", tint.Err(err))
	}
	if user != nil && user.Ignored {
		b.logger.Debug("ignoring message from ignored user", "user", user)
		return
	}

	go b.helpThreads.TouchActivity(ctx, m.ChannelID)

	if b.paused.Load() {
		b.logger.Debug("paused, skipping dispatch", "message_id", m.ID)
		return
	}

	b.router.Dispatch(m)
	b.detectThanks(ctx, m)
}

// handleReactionAdd routes reaction gestures to whichever interactive
// construct owns the target message. The bot's own control reactions are
// ignored.
func (b *Bot) handleReactionAdd(r *discordgo.MessageReactionAdd) {
	if r == nil {
		return
	}
	if botID := b.discord.botUserID(); botID != "" && r.UserID == botID {
		return
	}
	b.reactions.Dispatch(r)
}

// detectThanks grants a reputation point when a message thanks exactly
// one mentioned user. Runs after command dispatch so "!rep" stays the
// explicit path.
func (b *Bot) detectThanks(ctx context.Context, m *discordgo.MessageCreate) {
	if len(m.Mentions) != 1 || !thanksPattern.MatchString(m.Content) {
		return
	}
	recipient := m.Mentions[0]
	if recipient.ID == m.Author.ID || recipient.Bot {
		return
	}
	// A prefixed message is a command; the rep command handles its own.
	for _, prefix := range b.config.Router.Prefixes {
		if strings.HasPrefix(m.Content, prefix) {
			return
		}
	}
	go func() {
		granted, err := b.grantRep(ctx, m.Author.ID, recipient.ID, m.ChannelID, m.ID)
		if err != nil {
			b.logger.Error("error granting thanks rep", tint.Err(err))
			return
		}
		if !granted {
			return
		}
		if _, err = b.discord.session.ChannelMessageSendReply(
			m.ChannelID,
			fmt.Sprintf("Gave +1 rep to <@%s>!", recipient.ID),
			m.Reference(),
		); err != nil {
			b.logger.Warn("error sending thanks reply", tint.Err(err))
		}
	}()
}

// getOrCreateUser returns the User row for a discord user, creating it
// on first sight and refreshing last-seen/username. Backed by the
// bounded user cache.
func (b *Bot) getOrCreateUser(
	ctx context.Context,
	u discordgo.User,
) (*User, error) {
	now := time.Now().UnixMilli()
	if cached, ok := b.userCache.Get(u.ID); ok {
		if cached.Username != u.Username || now-cached.LastSeen > 60_000 {
			cached.Username = u.Username
			cached.GlobalName = u.GlobalName
			cached.LastSeen = now
			if _, err := b.writeDB.Updates(
				ctx,
				cached,
				map[string]any{
					columnUserLastSeen: now,
					columnUserUsername: u.Username,
				},
			); err != nil {
				return cached, err
			}
		}
		return cached, nil
	}

	var user User
	err := b.db.WithContext(ctx).Where("id = ?", u.ID).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = *NewUser(u)
		user.LastSeen = now
		if _, err = b.writeDB.Create(ctx, &user); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		user.LastSeen = now
		if _, err = b.writeDB.Update(
			ctx, &user, columnUserLastSeen, now,
		); err != nil {
			return &user, err
		}
	}
	b.userCache.Set(user.ID, &user)
	return &user, nil
}

// shutdown tears everything down, in parallel, within the configured
// shutdown timeout: pagination sessions closed, janitor and reminder
// timers stopped, gateway connection closed.
func (b *Bot) shutdown() error {
	ctx, cancel := context.WithTimeout(
		context.Background(),
		b.config.ShutdownTimeout,
	)
	defer cancel()

	for _, remove := range b.removeHandlerFuncs {
		remove()
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.paginator.CloseAll()
		return nil
	})
	g.Go(func() error {
		b.reminders.Stop()
		return nil
	})
	g.Go(func() error {
		b.helpThreads.StopJanitor()
		return nil
	})
	g.Go(func() error {
		b.router.Wait()
		b.filters.Wait()
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if closeErr := b.discord.session.Close(); closeErr != nil {
		b.logger.Error("error closing discord session", tint.Err(closeErr))
		if err == nil {
			err = closeErr
		}
	}
	b.logger.Info("shutdown complete")
	return err
}
