package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/require"
)

func testLogger(t testing.TB) *slog.Logger {
	t.Helper()
	level := &slog.LevelVar{}
	level.Set(slog.LevelDebug)
	return slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     level,
				AddSource: true,
			},
		),
	).With("test", t.Name())
}

// testWriteDB creates a sqlite-backed DBI in a temp dir, migrated.
func testWriteDB(t testing.TB) DBI {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.sqlite3")
	db, err := CreateDB(context.Background(), dbTypeSQLite, dbPath)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)
	return NewDatabase(db, testLogger(t), false)
}

type sentMessage struct {
	ChannelID string
	Content   string
	Data      *discordgo.MessageSend
	Reference *discordgo.MessageReference
}

type reactionCall struct {
	ChannelID string
	MessageID string
	Emoji     string
	UserID    string
}

// stubSession implements Session, recording every outbound call so tests
// can assert on what the bot would have sent to Discord.
type stubSession struct {
	mu     sync.Mutex
	nextID int

	Sent             []sentMessage
	Edits            []sentMessage
	Deleted          []string
	ReactionsAdded   []reactionCall
	ReactionsRemoved []reactionCall
	ReactionsCleared []string
	CustomStatus     string

	SendErr error
}

func newStubSession() *stubSession {
	return &stubSession{}
}

func (s *stubSession) newMessage(channelID string, content string) *discordgo.Message {
	s.nextID++
	return &discordgo.Message{
		ID:        fmt.Sprintf("msg-%d", s.nextID),
		ChannelID: channelID,
		Content:   content,
	}
}

func (s *stubSession) Open() error  { return nil }
func (s *stubSession) Close() error { return nil }

func (s *stubSession) AddHandler(_ any) func() {
	return func() {}
}

func (s *stubSession) ChannelMessageSend(
	channelID string,
	content string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return nil, s.SendErr
	}
	s.Sent = append(s.Sent, sentMessage{ChannelID: channelID, Content: content})
	return s.newMessage(channelID, content), nil
}

func (s *stubSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return nil, s.SendErr
	}
	s.Sent = append(
		s.Sent,
		sentMessage{ChannelID: channelID, Content: data.Content, Data: data},
	)
	return s.newMessage(channelID, data.Content), nil
}

func (s *stubSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return nil, s.SendErr
	}
	s.Sent = append(
		s.Sent,
		sentMessage{
			ChannelID: channelID,
			Content:   content,
			Reference: reference,
		},
	)
	return s.newMessage(channelID, content), nil
}

func (s *stubSession) ChannelMessageEdit(
	channelID string,
	messageID string,
	content string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Edits = append(s.Edits, sentMessage{ChannelID: channelID, Content: content})
	return &discordgo.Message{
		ID:        messageID,
		ChannelID: channelID,
		Content:   content,
	}, nil
}

func (s *stubSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Deleted = append(s.Deleted, channelID+"/"+messageID)
	return nil
}

func (s *stubSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	_ ...discordgo.RequestOption,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReactionsAdded = append(
		s.ReactionsAdded,
		reactionCall{ChannelID: channelID, MessageID: messageID, Emoji: emojiID},
	)
	return nil
}

func (s *stubSession) MessageReactionRemove(
	channelID string,
	messageID string,
	emojiID string,
	userID string,
	_ ...discordgo.RequestOption,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReactionsRemoved = append(
		s.ReactionsRemoved,
		reactionCall{
			ChannelID: channelID,
			MessageID: messageID,
			Emoji:     emojiID,
			UserID:    userID,
		},
	)
	return nil
}

func (s *stubSession) MessageReactionsRemoveAll(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReactionsCleared = append(s.ReactionsCleared, channelID+"/"+messageID)
	return nil
}

func (s *stubSession) UserChannelCreate(
	recipientID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return &discordgo.Channel{
		ID:   "dm-" + recipientID,
		Type: discordgo.ChannelTypeDM,
	}, nil
}

func (s *stubSession) UpdateCustomStatus(status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CustomStatus = status
	return nil
}

// Snapshot accessors, so assertions don't race in-flight goroutines.

func (s *stubSession) sentMessages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentMessage, len(s.Sent))
	copy(out, s.Sent)
	return out
}

func (s *stubSession) editedMessages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentMessage, len(s.Edits))
	copy(out, s.Edits)
	return out
}

func (s *stubSession) deletedMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Deleted))
	copy(out, s.Deleted)
	return out
}

func (s *stubSession) removedReactions() []reactionCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]reactionCall, len(s.ReactionsRemoved))
	copy(out, s.ReactionsRemoved)
	return out
}

func (s *stubSession) clearedReactions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ReactionsCleared))
	copy(out, s.ReactionsCleared)
	return out
}

func (s *stubSession) addedReactions() []reactionCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]reactionCall, len(s.ReactionsAdded))
	copy(out, s.ReactionsAdded)
	return out
}

// newMessageCreate builds a message event the way the gateway delivers
// command invocations.
func newMessageCreate(
	userID string,
	channelID string,
	content string,
) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "incoming-" + userID,
			ChannelID: channelID,
			Content:   content,
			Author:    &discordgo.User{ID: userID, Username: "user-" + userID},
		},
	}
}

// newReactionAdd builds a reaction-add gesture.
func newReactionAdd(
	userID string,
	channelID string,
	messageID string,
	emoji string,
) *discordgo.MessageReactionAdd {
	return &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			UserID:    userID,
			ChannelID: channelID,
			MessageID: messageID,
			Emoji:     discordgo.Emoji{Name: emoji},
		},
	}
}
