package bot

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Column names used with gorm Update/Updates calls, so renames only have
// to happen in one place.
const (
	columnUserLastSeen    = "last_seen"
	columnUserUsername    = "username"
	columnUserReputation  = "reputation"
	columnTagUses         = "uses"
	columnHelpThreadState = "state"
)

// User is a guild member the bot has seen, along with their reputation
// score.
type User struct {
	ModelStringID
	ModelUnixTime
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`

	// Reputation is the user's accumulated rep points.
	Reputation int64 `gorm:"default:0" json:"reputation"`

	// LastSeen is the unix millisecond timestamp of the user's most
	// recent message.
	LastSeen int64 `json:"last_seen,omitempty"`

	// Ignored indicates the bot should silently ignore this user's
	// commands.
	Ignored bool `gorm:"default:false" json:"ignored"`
}

// NewUser creates a User record from a discord user.
func NewUser(u discordgo.User) *User {
	return &User{
		ModelStringID: ModelStringID{ID: u.ID},
		Username:      u.Username,
		GlobalName:    u.GlobalName,
	}
}

func (u User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", u.ID),
		slog.String("username", u.Username),
		slog.Int64("reputation", u.Reputation),
		slog.Bool("ignored", u.Ignored),
	)
}

// RepEvent records one reputation point changing hands, for auditing and
// for enforcing the per-giver daily allowance.
type RepEvent struct {
	ModelUintID
	ModelUnixTime
	FromUserID string `gorm:"index" json:"from_user_id"`
	ToUserID   string `gorm:"index" json:"to_user_id"`
	ChannelID  string `json:"channel_id"`
	MessageID  string `json:"message_id"`
}

// Tag is a user-created named text block, recalled with the bare
// `!<name>` soft command.
type Tag struct {
	ModelUintID
	ModelUnixTime
	Name     string `gorm:"uniqueIndex" json:"name"`
	Content  string `json:"content"`
	AuthorID string `gorm:"index" json:"author_id"`

	// Uses counts recalls, for ordering tag listings.
	Uses int64 `gorm:"default:0" json:"uses"`
}

// Snippet is a moderator-curated named text block. Snippets resolve after
// tags in the soft-command fallback, and only moderators may change them.
type Snippet struct {
	ModelUintID
	ModelUnixTime
	Name     string `gorm:"uniqueIndex" json:"name"`
	Content  string `json:"content"`
	AuthorID string `gorm:"index" json:"author_id"`
}

// Reminder is a persisted scheduled delivery: at DueAt, Payload is sent
// to OwnerUserID as a DM, best effort, then the row is deleted.
type Reminder struct {
	ModelUintID
	ModelUnixTime

	// PublicID is the identifier shown to users.
	PublicID string `gorm:"uniqueIndex" json:"public_id"`

	OwnerUserID string `gorm:"index" json:"owner_user_id"`

	// DueAt is the unix millisecond timestamp the reminder fires at.
	DueAt int64 `gorm:"index" json:"due_at"`

	Payload string `json:"payload"`
}

// HelpThread states.
const (
	HelpThreadStateOpen     = "open"
	HelpThreadStateClaimed  = "claimed"
	HelpThreadStateResolved = "resolved"
)

// HelpThread is the bookkeeping row for one help channel/thread:
// who opened it, who claimed it, and when it last saw activity.
type HelpThread struct {
	ModelUintID
	ModelUnixTime
	ChannelID   string `gorm:"uniqueIndex" json:"channel_id"`
	OwnerUserID string `gorm:"index" json:"owner_user_id"`
	ClaimedByID string `json:"claimed_by_id"`
	Title       string `json:"title"`
	State       string `gorm:"index;default:open" json:"state"`

	// LastActivity is the unix millisecond timestamp of the most recent
	// message in the thread; the janitor closes threads idle too long.
	LastActivity int64 `json:"last_activity"`
}

// RuntimeConfig holds settings changeable at runtime without restarting
// the bot. A single row is loaded at startup and cached.
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime

	// Paused stops the bot from dispatching commands (filters still run).
	Paused bool `gorm:"default:false" json:"paused"`

	// CustomStatus is the bot's discord status text.
	CustomStatus string `json:"custom_status"`

	// NotificationChannelID, when set, receives a startup message on
	// connect.
	NotificationChannelID string `json:"notification_channel_id"`

	// AdminUsername/AdminPassword gate the HTTP admin API. The password
	// is an argon2id hash.
	AdminUsername string `json:"admin_username"`
	AdminPassword string `json:"-" log:"[redacted]"`
}

// DefaultRuntimeConfig returns the runtime config created on first run.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		CustomStatus: "!help",
	}
}
