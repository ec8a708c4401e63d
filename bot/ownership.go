package bot

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// emojiDeleteControl is the reaction attached to bot replies sent on
	// behalf of a user, letting that user (and only that user) delete the
	// reply later.
	emojiDeleteControl = "🗑️"

	// DefaultOwnershipCapacity bounds the number of tracked bot messages.
	// Once a record is evicted, ownership is permanently lost and delete
	// requests are treated as "not the owner" - an accepted trade-off to
	// keep memory O(capacity) regardless of uptime.
	DefaultOwnershipCapacity = 3000
)

// OwnershipTracker records which user caused a given bot-sent message to
// exist, gating who may delete it via the wastebasket reaction control.
type OwnershipTracker struct {
	owners     *LimitedSizeMap[string, string]
	session    Session
	dispatcher *ReactionDispatcher
	logger     *slog.Logger
}

// NewOwnershipTracker creates a tracker bounded to capacity records.
// If capacity is <= 0, DefaultOwnershipCapacity is used.
func NewOwnershipTracker(
	session Session,
	dispatcher *ReactionDispatcher,
	capacity int,
	logger *slog.Logger,
) *OwnershipTracker {
	if capacity <= 0 {
		capacity = DefaultOwnershipCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &OwnershipTracker{
		owners:     NewLimitedSizeMap[string, string](capacity),
		session:    session,
		dispatcher: dispatcher,
		logger:     logger.With(loggerNameKey, "ownership"),
	}
	// An evicted record leaves nothing for its reaction handler to do;
	// drop the registration so the dispatcher stays bounded too.
	t.owners.OnEvict(
		func(messageID string) {
			if t.dispatcher != nil {
				t.dispatcher.Unregister(messageID)
			}
		},
	)
	return t
}

// Record marks ownerUserID as the owner of the sent message, attaches the
// delete reaction control, and registers the tracker for that message's
// reactions.
func (t *OwnershipTracker) Record(msg *discordgo.Message, ownerUserID string) {
	if msg == nil {
		return
	}
	t.owners.Set(msg.ID, ownerUserID)
	if t.dispatcher != nil {
		channelID := msg.ChannelID
		t.dispatcher.Register(
			msg.ID,
			ReactionHandlerFunc(
				func(r *discordgo.MessageReactionAdd) {
					t.handleReaction(channelID, r)
				},
			),
		)
	}
	if err := t.session.MessageReactionAdd(
		msg.ChannelID, msg.ID, emojiDeleteControl,
	); err != nil {
		t.logger.Warn(
			"error attaching delete control",
			tint.Err(err),
			"message_id", msg.ID,
		)
	}
}

// IsOwner reports whether userID owns the given message. A record that
// was evicted (or never existed) is "unknown": not the owner, never an
// error - callers must deny privileged actions on unknown ownership.
func (t *OwnershipTracker) IsOwner(messageID string, userID string) bool {
	owner, ok := t.owners.Get(messageID)
	return ok && owner == userID
}

// Clear drops the ownership record and reaction registration for a
// message, e.g. once the delete control has been consumed.
func (t *OwnershipTracker) Clear(messageID string) {
	t.owners.Delete(messageID)
	if t.dispatcher != nil {
		t.dispatcher.Unregister(messageID)
	}
}

// handleReaction consumes a wastebasket gesture on an owned message.
// Non-owner gestures are retracted so the control stays reusable.
func (t *OwnershipTracker) handleReaction(
	channelID string,
	r *discordgo.MessageReactionAdd,
) {
	if r.Emoji.Name != emojiDeleteControl {
		return
	}
	if !t.IsOwner(r.MessageID, r.UserID) {
		retractReaction(t.session, t.logger, r)
		return
	}
	if err := t.session.ChannelMessageDelete(channelID, r.MessageID); err != nil {
		t.logger.Error(
			"error deleting owned message",
			tint.Err(err),
			"message_id", r.MessageID,
			"user_id", r.UserID,
		)
		return
	}
	t.Clear(r.MessageID)
}
