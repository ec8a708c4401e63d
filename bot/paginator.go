package bot

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Navigation controls attached to a multi-page message, in display order.
const (
	emojiPageFirst = "⏮️"
	emojiPageBack  = "◀️"
	emojiPageStop  = "⏹️"
	emojiPageNext  = "▶️"
	emojiPageLast  = "⏭️"
)

var paginationControls = []string{
	emojiPageFirst,
	emojiPageBack,
	emojiPageStop,
	emojiPageNext,
	emojiPageLast,
}

// DefaultPaginationTimeout is the idle lifetime of a pagination session,
// measured from session creation. Sessions are not re-armed per
// interaction.
const DefaultPaginationTimeout = 10 * time.Minute

// Paginator turns lists of pre-rendered pages into reaction-driven
// interactive messages. At most one session is bound to a message ID at a
// time; single-page results are sent as plain messages with no controls.
type Paginator struct {
	session    Session
	dispatcher *ReactionDispatcher
	logger     *slog.Logger
	timeout    time.Duration

	mu       sync.Mutex
	sessions map[string]*paginationSession
}

// paginationSession is the live state of one interactive multi-page
// message. Control reactions from any user other than the owner are
// ignored and retracted.
type paginationSession struct {
	paginator    *Paginator
	pages        []string
	currentIndex int
	ownerUserID  string
	channelID    string
	messageID    string

	mu     sync.Mutex
	closed bool
	timer  *time.Timer
}

// NewPaginator creates a Paginator with the given session timeout.
// A timeout <= 0 uses DefaultPaginationTimeout.
func NewPaginator(
	session Session,
	dispatcher *ReactionDispatcher,
	timeout time.Duration,
	logger *slog.Logger,
) *Paginator {
	if timeout <= 0 {
		timeout = DefaultPaginationTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Paginator{
		session:    session,
		dispatcher: dispatcher,
		logger:     logger.With(loggerNameKey, "paginator"),
		timeout:    timeout,
		sessions:   make(map[string]*paginationSession),
	}
}

// Send delivers pages to a channel. A single page is sent as a plain
// message and no session is created. Multiple pages create an interactive
// session owned by ownerUserID, expiring after the configured timeout.
func (p *Paginator) Send(
	channelID string,
	pages []string,
	ownerUserID string,
) (*discordgo.Message, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to send")
	}
	if len(pages) == 1 {
		return p.session.ChannelMessageSend(channelID, pages[0])
	}

	msg, err := p.session.ChannelMessageSend(
		channelID,
		renderPage(pages, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("error sending paginated message: %w", err)
	}

	ps := &paginationSession{
		paginator:   p,
		pages:       pages,
		ownerUserID: ownerUserID,
		channelID:   channelID,
		messageID:   msg.ID,
	}

	p.mu.Lock()
	if _, exists := p.sessions[msg.ID]; exists {
		// Shouldn't happen for a freshly-sent message; enforce the
		// one-session-per-message invariant anyway.
		p.mu.Unlock()
		return msg, fmt.Errorf("session already exists for message %s", msg.ID)
	}
	p.sessions[msg.ID] = ps
	p.mu.Unlock()

	if p.dispatcher != nil && !p.dispatcher.Register(msg.ID, ps) {
		p.mu.Lock()
		delete(p.sessions, msg.ID)
		p.mu.Unlock()
		return msg, fmt.Errorf("message %s already has an interaction handler", msg.ID)
	}

	for _, emoji := range paginationControls {
		if reactErr := p.session.MessageReactionAdd(
			channelID, msg.ID, emoji,
		); reactErr != nil {
			p.logger.Warn(
				"error attaching pagination control",
				tint.Err(reactErr),
				"message_id", msg.ID,
				"emoji", emoji,
			)
		}
	}

	// The session is already reachable through the dispatcher, so a stop
	// gesture may have closed it; don't arm the timeout for a dead session.
	ps.mu.Lock()
	if !ps.closed {
		ps.timer = time.AfterFunc(p.timeout, func() { ps.close() })
	}
	ps.mu.Unlock()
	return msg, nil
}

// ActiveSessions returns the number of live pagination sessions.
func (p *Paginator) ActiveSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// CloseAll stops every live session, stripping controls.
func (p *Paginator) CloseAll() {
	p.mu.Lock()
	sessions := make([]*paginationSession, 0, len(p.sessions))
	for _, ps := range p.sessions {
		sessions = append(sessions, ps)
	}
	p.mu.Unlock()
	for _, ps := range sessions {
		ps.close()
	}
}

func (p *Paginator) removeSession(messageID string) {
	p.mu.Lock()
	delete(p.sessions, messageID)
	p.mu.Unlock()
	if p.dispatcher != nil {
		p.dispatcher.Unregister(messageID)
	}
}

// HandleReactionAdd implements ReactionHandler for the session's message.
func (s *paginationSession) HandleReactionAdd(r *discordgo.MessageReactionAdd) {
	if r.MessageID != s.messageID {
		return
	}
	if r.UserID != s.ownerUserID {
		retractReaction(s.paginator.session, s.paginator.logger, r)
		return
	}

	switch r.Emoji.Name {
	case emojiPageFirst:
		s.jump(func(_ int, _ int) int { return 0 })
	case emojiPageLast:
		s.jump(func(_ int, n int) int { return n - 1 })
	case emojiPageBack:
		s.jump(
			func(i int, n int) int {
				if i-1 < 0 {
					return n - 1
				}
				return i - 1
			},
		)
	case emojiPageNext:
		s.jump(
			func(i int, n int) int {
				if i+1 >= n {
					return 0
				}
				return i + 1
			},
		)
	case emojiPageStop:
		s.close()
		return
	default:
		// Not a control; leave the reaction alone.
		return
	}
	retractReaction(s.paginator.session, s.paginator.logger, r)
}

// jump computes the new page index and re-renders the message if the
// session is still active.
func (s *paginationSession) jump(next func(current int, total int) int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.currentIndex = next(s.currentIndex, len(s.pages))
	content := renderPage(s.pages, s.currentIndex)
	s.mu.Unlock()

	if _, err := s.paginator.session.ChannelMessageEdit(
		s.channelID, s.messageID, content,
	); err != nil {
		s.paginator.logger.Error(
			"error editing paginated message",
			tint.Err(err),
			"message_id", s.messageID,
		)
	}
}

// close stops the session and strips all controls. Safe to invoke twice:
// the owner's stop gesture and the timeout both converge here.
func (s *paginationSession) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.paginator.removeSession(s.messageID)
	if err := s.paginator.session.MessageReactionsRemoveAll(
		s.channelID, s.messageID,
	); err != nil {
		s.paginator.logger.Warn(
			"error stripping pagination controls",
			tint.Err(err),
			"message_id", s.messageID,
		)
	}
}

// renderPage appends the position footer to a page body.
func renderPage(pages []string, index int) string {
	return fmt.Sprintf(
		"%s\n\nPage %d of %d",
		pages[index],
		index+1,
		len(pages),
	)
}

// ChunkItems splits pre-rendered lines into newline-joined pages of at
// most perPage lines each.
func ChunkItems(items []string, perPage int) []string {
	if perPage < 1 {
		perPage = 1
	}
	var pages []string
	for start := 0; start < len(items); start += perPage {
		end := start + perPage
		if end > len(items) {
			end = len(items)
		}
		pages = append(pages, strings.Join(items[start:end], "\n"))
	}
	return pages
}
