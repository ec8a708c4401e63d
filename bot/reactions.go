package bot

import (
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// ReactionHandler receives reaction-add gestures for a single message.
type ReactionHandler interface {
	// HandleReactionAdd processes one reaction-add event on the message
	// this handler is registered for.
	HandleReactionAdd(r *discordgo.MessageReactionAdd)
}

// ReactionHandlerFunc adapts a function to the ReactionHandler interface.
type ReactionHandlerFunc func(r *discordgo.MessageReactionAdd)

func (f ReactionHandlerFunc) HandleReactionAdd(r *discordgo.MessageReactionAdd) {
	f(r)
}

// ReactionDispatcher routes reaction-add events to whichever interactive
// construct (paginator session, ownership delete control) owns the target
// message's interactivity.
//
// Keying the registry by message ID keeps per-event work O(1) and makes
// "at most one construct per message" enforceable as a map invariant.
type ReactionDispatcher struct {
	mu       sync.Mutex
	handlers map[string]ReactionHandler
	logger   *slog.Logger
}

// NewReactionDispatcher creates an empty dispatcher.
func NewReactionDispatcher(logger *slog.Logger) *ReactionDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReactionDispatcher{
		handlers: map[string]ReactionHandler{},
		logger:   logger.With(loggerNameKey, "reaction_dispatcher"),
	}
}

// Register binds handler to messageID. Returns false without replacing
// anything if the message already has a handler.
func (d *ReactionDispatcher) Register(messageID string, handler ReactionHandler) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[messageID]; exists {
		return false
	}
	d.handlers[messageID] = handler
	return true
}

// Unregister removes any handler bound to messageID.
func (d *ReactionDispatcher) Unregister(messageID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, messageID)
}

// Len returns the number of registered handlers.
func (d *ReactionDispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}

// Registered reports whether messageID has a live handler.
func (d *ReactionDispatcher) Registered(messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.handlers[messageID]
	return ok
}

// Dispatch routes a single reaction-add event. Events on messages without
// a registered handler are ignored. Handler panics are recovered so one
// bad gesture can't take down the event loop.
func (d *ReactionDispatcher) Dispatch(r *discordgo.MessageReactionAdd) {
	if r == nil {
		return
	}
	d.mu.Lock()
	handler, ok := d.handlers[r.MessageID]
	d.mu.Unlock()
	if !ok {
		return
	}
	defer func() {
		if rc := recover(); rc != nil {
			d.logger.Error(
				"recovered panic in reaction handler",
				"recovered", rc,
				"message_id", r.MessageID,
				"emoji", r.Emoji.Name,
			)
		}
	}()
	handler.HandleReactionAdd(r)
}

// retractReaction removes a user's reaction so the control stays reusable.
// Failures are logged and otherwise ignored; the control still works.
func retractReaction(
	session Session,
	logger *slog.Logger,
	r *discordgo.MessageReactionAdd,
) {
	err := session.MessageReactionRemove(
		r.ChannelID,
		r.MessageID,
		r.Emoji.APIName(),
		r.UserID,
	)
	if err != nil && logger != nil {
		logger.Warn(
			"error retracting reaction",
			tint.Err(err),
			"message_id", r.MessageID,
			"emoji", r.Emoji.Name,
		)
	}
}
