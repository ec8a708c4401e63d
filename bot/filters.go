package bot

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

// Filter inspects one message and may act on it (delete it, post a
// warning, log to a moderation channel). Filters never communicate
// anything back to the router; the pipeline is fire-and-forget fan-out,
// not a short-circuiting middleware chain.
type Filter struct {
	// Name identifies the filter in logs.
	Name string

	// Run performs the filter's side effects for one message.
	Run func(session Session, m *discordgo.MessageCreate) error
}

// FilterPipeline fans every incoming message out to each registered
// filter, unconditionally and independently of command dispatch. Filters
// run concurrently; one filter's failure never prevents the others from
// running.
type FilterPipeline struct {
	session Session
	logger  *slog.Logger
	filters []*Filter
	wg      sync.WaitGroup
}

// NewFilterPipeline creates an empty pipeline.
func NewFilterPipeline(session Session, logger *slog.Logger) *FilterPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilterPipeline{
		session: session,
		logger:  logger.With(loggerNameKey, "filters"),
	}
}

// Register appends a filter. Registration happens at startup, before
// messages flow.
func (p *FilterPipeline) Register(f *Filter) {
	p.filters = append(p.filters, f)
}

// OnMessage fans the message out to every filter, each in its own
// goroutine with panic recovery.
func (p *FilterPipeline) OnMessage(m *discordgo.MessageCreate) {
	for _, f := range p.filters {
		p.wg.Add(1)
		go func(f *Filter) {
			defer p.wg.Done()
			defer func() {
				if rc := recover(); rc != nil {
					p.logger.Error(
						"recovered panic in filter",
						"filter", f.Name,
						"recovered", rc,
					)
				}
			}()
			if err := f.Run(p.session, m); err != nil {
				p.logger.Error(
					"filter error",
					tint.Err(err),
					"filter", f.Name,
					"message_id", m.ID,
				)
			}
		}(f)
	}
}

// Wait blocks until all in-flight filter runs return.
func (p *FilterPipeline) Wait() {
	p.wg.Wait()
}

// NewProfanityFilter deletes messages containing any of the blocked
// words and warns the author in-channel.
func NewProfanityFilter(blockedWords []string) *Filter {
	blocked := make([]string, 0, len(blockedWords))
	for _, w := range blockedWords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			blocked = append(blocked, w)
		}
	}
	return &Filter{
		Name: "profanity",
		Run: func(session Session, m *discordgo.MessageCreate) error {
			content := strings.ToLower(m.Content)
			matched := ""
			for _, w := range blocked {
				if strings.Contains(content, w) {
					matched = w
					break
				}
			}
			if matched == "" {
				return nil
			}
			if err := session.ChannelMessageDelete(m.ChannelID, m.ID); err != nil {
				return fmt.Errorf("error deleting message: %w", err)
			}
			_, err := session.ChannelMessageSend(
				m.ChannelID,
				fmt.Sprintf("<@%s>, watch your language!", m.Author.ID),
			)
			if err != nil {
				return fmt.Errorf("error sending warning: %w", err)
			}
			return nil
		},
	}
}

// duplicateWindow is how far apart two identical messages from one user
// can be and still count as spam.
const duplicateWindow = 30 * time.Second

type recentMessage struct {
	content string
	seenAt  time.Time
}

// NewDuplicateSpamFilter warns users reposting identical content within
// a short window. Warnings are rate limited per pipeline (not per user)
// so the filter itself can't be used to make the bot spam.
func NewDuplicateSpamFilter(capacity int, warnEvery time.Duration) *Filter {
	if capacity <= 0 {
		capacity = 500
	}
	if warnEvery <= 0 {
		warnEvery = 10 * time.Second
	}
	recent := NewLimitedSizeMap[string, recentMessage](capacity)
	limiter := rate.NewLimiter(rate.Every(warnEvery), 1)

	return &Filter{
		Name: "duplicate_spam",
		Run: func(session Session, m *discordgo.MessageCreate) error {
			content := strings.TrimSpace(m.Content)
			if content == "" {
				return nil
			}
			now := time.Now()
			prev, seen := recent.Get(m.Author.ID)
			recent.Set(m.Author.ID, recentMessage{content: content, seenAt: now})

			if !seen || prev.content != content {
				return nil
			}
			if now.Sub(prev.seenAt) > duplicateWindow {
				return nil
			}
			if !limiter.Allow() {
				return nil
			}
			_, err := session.ChannelMessageSend(
				m.ChannelID,
				fmt.Sprintf(
					"<@%s>, please don't repeat yourself.",
					m.Author.ID,
				),
			)
			if err != nil {
				return fmt.Errorf("error sending duplicate warning: %w", err)
			}
			return nil
		},
	}
}
