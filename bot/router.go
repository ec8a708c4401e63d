package bot

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	permissionDeniedNotice = "You don't have permission to do that."
	commandFailedNotice    = "Sorry, something went wrong!"
)

// Command is an immutable registration: a handler bound to one or more
// case-insensitive trigger aliases, optionally gated on member
// permissions. Commands are plain values collected in a Router built at
// startup - no inheritance, no decorators.
type Command struct {
	// Aliases is the non-empty ordered list of triggers for this command.
	// The first alias is the canonical name shown in help output.
	Aliases []string

	// Description is optional help text.
	Description string

	// RequiredPermissions holds discordgo permission bits the invoking
	// member must all have. Empty means open to all.
	RequiredPermissions []int64

	// Handler runs the command. Trailing text (the original content minus
	// the trigger token and one separating whitespace) is on the Context.
	Handler func(ctx *CommandContext) error
}

// Name returns the canonical (first) alias.
func (c *Command) Name() string {
	if len(c.Aliases) == 0 {
		return ""
	}
	return c.Aliases[0]
}

// CommandContext carries one command invocation: the triggering message,
// the bare trigger, the trailing argument text, and reply helpers that
// register ownership of anything sent back.
type CommandContext struct {
	Session   Session
	Message   *discordgo.MessageCreate
	Trigger   string
	Args      string
	Logger    *slog.Logger
	Ownership *OwnershipTracker
	Paginator *Paginator
}

// Reply sends content to the invoking channel with all mentions
// suppressed, and records the sender as owner of the reply.
func (ctx *CommandContext) Reply(content string) (*discordgo.Message, error) {
	msg, err := ctx.Session.ChannelMessageSendComplex(
		ctx.Message.ChannelID,
		&discordgo.MessageSend{
			Content:         content,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error sending reply: %w", err)
	}
	if ctx.Ownership != nil {
		ctx.Ownership.Record(msg, ctx.Message.Author.ID)
	}
	return msg, nil
}

// ReplyBuilder sends the built payload with its mention policy, and
// records the sender as owner of the reply.
func (ctx *CommandContext) ReplyBuilder(b *MessageBuilder) (*discordgo.Message, error) {
	content, allowed := b.Build()
	msg, err := ctx.Session.ChannelMessageSendComplex(
		ctx.Message.ChannelID,
		&discordgo.MessageSend{
			Content:         content,
			AllowedMentions: allowed,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error sending reply: %w", err)
	}
	if ctx.Ownership != nil {
		ctx.Ownership.Record(msg, ctx.Message.Author.ID)
	}
	return msg, nil
}

// Paginate sends pages to the invoking channel as an interactive session
// owned by the sender. A single page is sent plain.
func (ctx *CommandContext) Paginate(pages []string) (*discordgo.Message, error) {
	return ctx.Paginator.Send(
		ctx.Message.ChannelID,
		pages,
		ctx.Message.Author.ID,
	)
}

// PermissionChecker reports whether the author of a message holds the
// given permission bit in the message's channel. Delegated to the
// platform client (discordgo session state) in production; replaced with
// a stub in tests.
type PermissionChecker func(m *discordgo.MessageCreate, permission int64) bool

// SoftCommandFunc is the fallback lookup (tag/snippet/shortcut
// resolution) consulted only after the router confirms no hard command
// matched the stripped trigger. It returns true if it handled the
// trigger.
type SoftCommandFunc func(ctx *CommandContext, trigger string) bool

// Router parses incoming text against the configured prefixes and
// dispatches to registered command handlers.
//
// Registration happens at startup; dispatch is fire-and-forget per
// message, with handler failures recovered at the dispatch boundary so
// one bad message can't block subsequent dispatches. At most one handler
// runs per message: general-scope registrations are searched before
// admin-scope ones, and alias collisions are rejected at registration
// time.
type Router struct {
	prefixes []string

	general      []*Command
	admin        []*Command
	generalIndex map[string]*Command
	adminIndex   map[string]*Command

	hasPermission PermissionChecker
	softCommand   SoftCommandFunc

	ownership *OwnershipTracker
	paginator *Paginator
	session   Session
	logger    *slog.Logger

	// adminPermission gates every admin-scope command, in addition to any
	// RequiredPermissions on the command itself.
	adminPermission int64

	dispatchWG sync.WaitGroup
}

// NewRouter creates a Router recognizing the given literal prefixes.
func NewRouter(
	prefixes []string,
	session Session,
	hasPermission PermissionChecker,
	ownership *OwnershipTracker,
	paginator *Paginator,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		prefixes:        prefixes,
		generalIndex:    map[string]*Command{},
		adminIndex:      map[string]*Command{},
		hasPermission:   hasPermission,
		ownership:       ownership,
		paginator:       paginator,
		session:         session,
		logger:          logger.With(loggerNameKey, "router"),
		adminPermission: discordgo.PermissionAdministrator,
	}
}

// SetSoftCommand installs the soft-command fallback lookup.
func (r *Router) SetSoftCommand(fn SoftCommandFunc) {
	r.softCommand = fn
}

// Register adds a general-scope command. Alias collisions (within either
// scope) are rejected so exactly one handler can ever match a trigger.
func (r *Router) Register(cmd *Command) error {
	return r.register(cmd, false)
}

// RegisterAdmin adds an admin-scope command, gated on the administrator
// permission in addition to the command's own requirements.
func (r *Router) RegisterAdmin(cmd *Command) error {
	return r.register(cmd, true)
}

func (r *Router) register(cmd *Command, admin bool) error {
	if cmd == nil || len(cmd.Aliases) == 0 {
		return fmt.Errorf("command must have at least one alias")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %q has no handler", cmd.Name())
	}
	index := r.generalIndex
	if admin {
		index = r.adminIndex
	}
	for _, alias := range cmd.Aliases {
		key := strings.ToLower(alias)
		if _, exists := r.generalIndex[key]; exists {
			return fmt.Errorf("duplicate command alias: %s", key)
		}
		if _, exists := r.adminIndex[key]; exists {
			return fmt.Errorf("duplicate command alias: %s", key)
		}
	}
	for _, alias := range cmd.Aliases {
		index[strings.ToLower(alias)] = cmd
	}
	if admin {
		r.admin = append(r.admin, cmd)
	} else {
		r.general = append(r.general, cmd)
	}
	return nil
}

// Commands returns the general-scope commands in registration order.
func (r *Router) Commands() []*Command {
	return r.general
}

// AdminCommands returns the admin-scope commands in registration order.
func (r *Router) AdminCommands() []*Command {
	return r.admin
}

// matchPrefix returns the token with its matched prefix stripped, and
// whether any configured prefix matched.
func (r *Router) matchPrefix(token string) (string, bool) {
	for _, prefix := range r.prefixes {
		if prefix != "" && strings.HasPrefix(token, prefix) {
			return token[len(prefix):], true
		}
	}
	return "", false
}

// Dispatch routes one message. Routing decisions happen synchronously in
// arrival order; the matched handler itself runs in its own goroutine so
// the router never awaits handler completion before accepting the next
// event.
func (r *Router) Dispatch(m *discordgo.MessageCreate) {
	if m == nil {
		return
	}
	author := messageAuthor(m.Message)
	if author == nil {
		return
	}
	// Gateway events for guild messages may carry the author only on the
	// member; normalize so handlers can rely on Message.Author.
	if m.Author == nil {
		m.Author = author
	}
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	token := content
	rest := ""
	if i := strings.IndexAny(content, " \t\n"); i >= 0 {
		token = content[:i]
		rest = strings.TrimSpace(content[i+1:])
	}

	trigger, ok := r.matchPrefix(token)
	if !ok || trigger == "" {
		return
	}
	trigger = strings.ToLower(trigger)

	ctx := &CommandContext{
		Session:   r.session,
		Message:   m,
		Trigger:   trigger,
		Args:      rest,
		Logger:    r.logger.With("trigger", trigger, "user_id", m.Author.ID),
		Ownership: r.ownership,
		Paginator: r.paginator,
	}

	cmd, admin := r.lookup(trigger)
	if cmd == nil {
		if r.softCommand != nil {
			r.dispatchWG.Add(1)
			go func() {
				defer r.dispatchWG.Done()
				defer r.recoverDispatch(ctx)
				r.softCommand(ctx, trigger)
			}()
		}
		return
	}

	if admin && !r.checkPermission(m, r.adminPermission) {
		r.denyPermission(ctx)
		return
	}
	for _, permission := range cmd.RequiredPermissions {
		if !r.checkPermission(m, permission) {
			r.denyPermission(ctx)
			return
		}
	}

	r.dispatchWG.Add(1)
	go func() {
		defer r.dispatchWG.Done()
		defer r.recoverDispatch(ctx)
		if err := cmd.Handler(ctx); err != nil {
			ctx.Logger.Error("command failed", tint.Err(err))
			r.notifyFailure(ctx)
		}
	}()
}

// Wait blocks until all in-flight handlers return. Used during shutdown
// and in tests.
func (r *Router) Wait() {
	r.dispatchWG.Wait()
}

// lookup finds the command for a trigger, searching general-scope
// registrations before admin-scope ones. The returned bool reports
// whether the match came from the admin scope.
func (r *Router) lookup(trigger string) (*Command, bool) {
	if cmd, ok := r.generalIndex[trigger]; ok {
		return cmd, false
	}
	if cmd, ok := r.adminIndex[trigger]; ok {
		return cmd, true
	}
	return nil, false
}

func (r *Router) checkPermission(
	m *discordgo.MessageCreate,
	permission int64,
) bool {
	if r.hasPermission == nil {
		return false
	}
	return r.hasPermission(m, permission)
}

func (r *Router) denyPermission(ctx *CommandContext) {
	ctx.Logger.Warn("permission denied")
	if _, err := ctx.Session.ChannelMessageSend(
		ctx.Message.ChannelID,
		permissionDeniedNotice,
	); err != nil {
		ctx.Logger.Error("error sending denial notice", tint.Err(err))
	}
}

func (r *Router) notifyFailure(ctx *CommandContext) {
	if _, err := ctx.Session.ChannelMessageSend(
		ctx.Message.ChannelID,
		commandFailedNotice,
	); err != nil {
		ctx.Logger.Error("error sending failure notice", tint.Err(err))
	}
}

// recoverDispatch is the dispatch boundary: handler panics are logged,
// never re-raised into the event loop.
func (r *Router) recoverDispatch(ctx *CommandContext) {
	if rc := recover(); rc != nil {
		ctx.Logger.Error(
			"recovered panic in command handler",
			"recovered", rc,
		)
		r.notifyFailure(ctx)
	}
}
