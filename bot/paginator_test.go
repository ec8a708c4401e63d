package bot

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPaginator(
	t testing.TB,
	timeout time.Duration,
) (*Paginator, *ReactionDispatcher, *stubSession) {
	t.Helper()
	session := newStubSession()
	dispatcher := NewReactionDispatcher(testLogger(t))
	p := NewPaginator(session, dispatcher, timeout, testLogger(t))
	t.Cleanup(p.CloseAll)
	return p, dispatcher, session
}

func TestChunkItems(t *testing.T) {
	items := make([]string, 25)
	for i := range items {
		items[i] = fmt.Sprintf("item %d", i+1)
	}
	pages := ChunkItems(items, 10)
	require.Len(t, pages, 3)
	assert.Contains(t, pages[0], "item 1")
	assert.Contains(t, pages[0], "item 10")
	assert.Contains(t, pages[2], "item 21")
	assert.Contains(t, pages[2], "item 25")

	assert.Len(t, ChunkItems(items[:10], 10), 1)
	assert.Empty(t, ChunkItems(nil, 10))
}

func TestPaginatorSinglePagePlain(t *testing.T) {
	p, dispatcher, session := newTestPaginator(t, time.Minute)

	msg, err := p.Send("c1", []string{"only page"}, "owner")
	require.NoError(t, err)
	require.NotNil(t, msg)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "only page", sent[0].Content)
	assert.NotContains(t, sent[0].Content, "Page 1 of")
	assert.Empty(t, session.addedReactions(), "no controls on a single page")
	assert.Equal(t, 0, p.ActiveSessions())
	assert.False(t, dispatcher.Registered(msg.ID))
}

func TestPaginatorNoPages(t *testing.T) {
	p, _, _ := newTestPaginator(t, time.Minute)
	_, err := p.Send("c1", nil, "owner")
	assert.Error(t, err)
}

func TestPaginatorMultiPageSession(t *testing.T) {
	p, dispatcher, session := newTestPaginator(t, time.Minute)

	msg, err := p.Send("c1", []string{"one", "two", "three"}, "owner")
	require.NoError(t, err)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "one\n\nPage 1 of 3", sent[0].Content)

	added := session.addedReactions()
	require.Len(t, added, len(paginationControls))
	for i, emoji := range paginationControls {
		assert.Equal(t, emoji, added[i].Emoji)
	}
	assert.Equal(t, 1, p.ActiveSessions())
	assert.True(t, dispatcher.Registered(msg.ID))
}

func TestPaginatorNavigation(t *testing.T) {
	p, dispatcher, session := newTestPaginator(t, time.Minute)
	msg, err := p.Send("c1", []string{"one", "two", "three"}, "owner")
	require.NoError(t, err)

	next := func(emoji string) {
		dispatcher.Dispatch(newReactionAdd("owner", "c1", msg.ID, emoji))
	}

	next(emojiPageNext)
	edits := session.editedMessages()
	require.Len(t, edits, 1)
	assert.Equal(t, "two\n\nPage 2 of 3", edits[0].Content)

	next(emojiPageLast)
	edits = session.editedMessages()
	require.Len(t, edits, 2)
	assert.Equal(t, "three\n\nPage 3 of 3", edits[1].Content)

	// Next past the last page wraps to the first.
	next(emojiPageNext)
	edits = session.editedMessages()
	require.Len(t, edits, 3)
	assert.Equal(t, "one\n\nPage 1 of 3", edits[2].Content)

	// Back from the first page wraps to the last.
	next(emojiPageBack)
	edits = session.editedMessages()
	require.Len(t, edits, 4)
	assert.Equal(t, "three\n\nPage 3 of 3", edits[3].Content)

	next(emojiPageFirst)
	edits = session.editedMessages()
	require.Len(t, edits, 5)
	assert.Equal(t, "one\n\nPage 1 of 3", edits[4].Content)

	// Each consumed control gesture is retracted.
	assert.Len(t, session.removedReactions(), 5)
}

func TestPaginatorNonOwnerRetracted(t *testing.T) {
	p, dispatcher, session := newTestPaginator(t, time.Minute)
	msg, err := p.Send("c1", []string{"one", "two"}, "owner")
	require.NoError(t, err)

	dispatcher.Dispatch(newReactionAdd("intruder", "c1", msg.ID, emojiPageNext))

	assert.Empty(t, session.editedMessages())
	removed := session.removedReactions()
	require.Len(t, removed, 1)
	assert.Equal(t, "intruder", removed[0].UserID)
	assert.Equal(t, 1, p.ActiveSessions())
}

func TestPaginatorStop(t *testing.T) {
	p, dispatcher, session := newTestPaginator(t, time.Minute)
	msg, err := p.Send("c1", []string{"one", "two"}, "owner")
	require.NoError(t, err)

	dispatcher.Dispatch(newReactionAdd("owner", "c1", msg.ID, emojiPageStop))

	assert.Equal(t, 0, p.ActiveSessions())
	assert.False(t, dispatcher.Registered(msg.ID))
	assert.Equal(
		t,
		[]string{"c1/" + msg.ID},
		session.clearedReactions(),
		"stop strips all controls",
	)

	// A second stop gesture is a no-op.
	dispatcher.Dispatch(newReactionAdd("owner", "c1", msg.ID, emojiPageStop))
	assert.Len(t, session.clearedReactions(), 1)
}

func TestPaginatorStopRacingTimeout(t *testing.T) {
	p, dispatcher, session := newTestPaginator(t, 30*time.Millisecond)
	msg, err := p.Send("c1", []string{"one", "two"}, "owner")
	require.NoError(t, err)

	// A stop gesture arriving while Send is still setting up must win
	// cleanly over the idle timeout: stopping and timing out converge on
	// one close, never two.
	dispatcher.Dispatch(newReactionAdd("owner", "c1", msg.ID, emojiPageStop))
	assert.Equal(t, 0, p.ActiveSessions())

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, session.clearedReactions(), 1)
	assert.False(t, dispatcher.Registered(msg.ID))
}

func TestPaginatorTimeout(t *testing.T) {
	p, dispatcher, session := newTestPaginator(t, 50*time.Millisecond)
	msg, err := p.Send("c1", []string{"one", "two"}, "owner")
	require.NoError(t, err)
	require.Equal(t, 1, p.ActiveSessions())

	require.Eventually(
		t,
		func() bool { return p.ActiveSessions() == 0 },
		time.Second,
		10*time.Millisecond,
	)
	assert.False(t, dispatcher.Registered(msg.ID))
	assert.Equal(t, []string{"c1/" + msg.ID}, session.clearedReactions())
}

func TestPaginatorCloseAll(t *testing.T) {
	p, _, session := newTestPaginator(t, time.Minute)
	_, err := p.Send("c1", []string{"a", "b"}, "owner")
	require.NoError(t, err)
	_, err = p.Send("c2", []string{"a", "b"}, "owner")
	require.NoError(t, err)
	require.Equal(t, 2, p.ActiveSessions())

	p.CloseAll()
	assert.Equal(t, 0, p.ActiveSessions())
	assert.Len(t, session.clearedReactions(), 2)
}
