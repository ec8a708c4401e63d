package bot

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// discordMaxMessageLength is the maximum content length Discord
	// accepts for a single message.
	discordMaxMessageLength = 2000
)

// Discord manages the gateway connection for the bot.
//
// It wraps a [DiscordSessionHandler], tracks connection state, and exposes
// the small set of outbound primitives the rest of the bot depends on.
type Discord struct {
	session Session
	config  *DiscordConfig
	logger  *slog.Logger
	b       *Bot

	removeHandlerFuncs []func()
}

// newDiscord initializes a new Discord instance with the provided configuration.
func newDiscord(config *DiscordConfig) *Discord {
	return &Discord{
		config:             config,
		removeHandlerFuncs: []func(){},
	}
}

// newSession creates a discordgo-backed session using the configured token
// and gateway intents.
func (d *Discord) newSession() (Session, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = true
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}
	return session, nil
}

func (d *Discord) handlerReady() func(s *discordgo.Session, r *discordgo.Ready) {
	return func(s *discordgo.Session, _ *discordgo.Ready) {
		d.logger.Info(
			"Connected",
			"session_id", s.State.SessionID,
			"user_id", s.State.User.ID,
			"username", s.State.User.Username,
		)
		if d.config.CustomStatus != "" {
			if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
				d.logger.Error("error setting custom status", tint.Err(err))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("disconnected", "session_id", sessionID)
	}
}

// botUserID returns the connected bot user's ID, or empty if the session
// state isn't populated yet.
func (d *Discord) botUserID() string {
	type stateful interface {
		BotUser() *discordgo.User
	}
	if s, ok := d.session.(stateful); ok {
		if u := s.BotUser(); u != nil {
			return u.ID
		}
	}
	return ""
}

// Session defines the discordgo.Session surface used by the bot,
// to enable testing/mocking. The bot core depends on these primitives
// only: sending/editing/deleting channel messages, adding and removing
// reactions, and opening DM channels.
type Session interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// ChannelMessageSend sends a plain message to the given channel.
	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendComplex sends a message with full payload control
	// (used to carry an explicit allowed-mentions policy).
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendReply sends a message as a reply to the
	// referenced message.
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageEdit replaces the content of an existing message.
	ChannelMessageEdit(
		channelID string,
		messageID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageDelete deletes a message.
	ChannelMessageDelete(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) error

	// MessageReactionAdd adds a reaction from the bot user to a message.
	MessageReactionAdd(
		channelID string,
		messageID string,
		emojiID string,
		options ...discordgo.RequestOption,
	) error

	// MessageReactionRemove removes a single user's reaction from a message.
	MessageReactionRemove(
		channelID string,
		messageID string,
		emojiID string,
		userID string,
		options ...discordgo.RequestOption,
	) error

	// MessageReactionsRemoveAll strips every reaction from a message.
	MessageReactionsRemoveAll(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) error

	// UserChannelCreate opens (or returns the existing) DM channel
	// with the given user.
	UserChannelCreate(
		recipientID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// UpdateCustomStatus sets the bot's custom status. If empty, clears
	// any existing custom status.
	UpdateCustomStatus(status string) error
}

// DiscordSession implements Session, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

// BotUser returns the bot's own user from session state.
func (d DiscordSession) BotUser() *discordgo.User {
	if d.session.State == nil {
		return nil
	}
	return d.session.State.User
}

// SetHTTPClient sets the HTTP client for the session.
func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, content, options...)
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendComplex(channelID, data, options...)
}

func (d DiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendReply(
		channelID, content, reference, options...,
	)
	if err != nil {
		d.logger.Error(
			"error sending message reply",
			tint.Err(err),
			"channel_id", channelID,
			"reference", reference,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageEdit(
	channelID string,
	messageID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageEdit(channelID, messageID, content, options...)
}

func (d DiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelMessageDelete(channelID, messageID, options...)
}

func (d DiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.MessageReactionAdd(channelID, messageID, emojiID, options...)
}

func (d DiscordSession) MessageReactionRemove(
	channelID string,
	messageID string,
	emojiID string,
	userID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.MessageReactionRemove(
		channelID, messageID, emojiID, userID, options...,
	)
}

func (d DiscordSession) MessageReactionsRemoveAll(
	channelID string,
	messageID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.MessageReactionsRemoveAll(channelID, messageID, options...)
}

func (d DiscordSession) UserChannelCreate(
	recipientID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	ch, err := d.session.UserChannelCreate(recipientID, options...)
	if err != nil {
		d.logger.Error(
			"error opening DM channel",
			tint.Err(err),
			"recipient_id", recipientID,
		)
	}
	return ch, err
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

// messageAuthor returns the author of a discord message, checking the
// member field as a fallback. Users don't always appear in the same place,
// so this checks known areas.
func messageAuthor(m *discordgo.Message) *discordgo.User {
	if m == nil {
		return nil
	}
	u := m.Author
	if u == nil && m.Member != nil {
		u = m.Member.User
	}
	return u
}
