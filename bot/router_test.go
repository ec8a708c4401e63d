package bot

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(
	t testing.TB,
	hasPermission PermissionChecker,
) (*Router, *stubSession) {
	t.Helper()
	session := newStubSession()
	dispatcher := NewReactionDispatcher(testLogger(t))
	ownership := NewOwnershipTracker(session, dispatcher, 100, testLogger(t))
	paginator := NewPaginator(session, dispatcher, 0, testLogger(t))
	t.Cleanup(paginator.CloseAll)
	r := NewRouter(
		[]string{"!"},
		session,
		hasPermission,
		ownership,
		paginator,
		testLogger(t),
	)
	return r, session
}

func allowAll(_ *discordgo.MessageCreate, _ int64) bool { return true }
func denyAll(_ *discordgo.MessageCreate, _ int64) bool  { return false }

func TestRouterDispatchesTrigger(t *testing.T) {
	r, _ := newTestRouter(t, allowAll)

	var gotArgs atomic.Value
	require.NoError(
		t, r.Register(
			&Command{
				Aliases: []string{"rep"},
				Handler: func(ctx *CommandContext) error {
					gotArgs.Store(ctx.Args)
					return nil
				},
			},
		),
	)

	r.Dispatch(newMessageCreate("u1", "c1", "!rep <@1234>"))
	r.Wait()

	assert.Equal(t, "<@1234>", gotArgs.Load())
}

func TestRouterDispatchesMemberOnlyAuthor(t *testing.T) {
	r, _ := newTestRouter(t, allowAll)

	var gotAuthor atomic.Value
	require.NoError(
		t, r.Register(
			&Command{
				Aliases: []string{"ping"},
				Handler: func(ctx *CommandContext) error {
					gotAuthor.Store(ctx.Message.Author.ID)
					return nil
				},
			},
		),
	)

	// Guild gateway events can carry the author only on the member.
	m := &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "incoming-member",
			ChannelID: "c1",
			Content:   "!ping",
			Member: &discordgo.Member{
				User: &discordgo.User{ID: "u1", Username: "user-u1"},
			},
		},
	}
	r.Dispatch(m)
	r.Wait()

	assert.Equal(t, "u1", gotAuthor.Load())
}

func TestRouterTriggerCaseInsensitive(t *testing.T) {
	r, _ := newTestRouter(t, allowAll)

	var calls atomic.Int64
	require.NoError(
		t, r.Register(
			&Command{
				Aliases: []string{"ping"},
				Handler: func(_ *CommandContext) error {
					calls.Add(1)
					return nil
				},
			},
		),
	)

	r.Dispatch(newMessageCreate("u1", "c1", "!PING"))
	r.Dispatch(newMessageCreate("u1", "c1", "!Ping extra args"))
	r.Wait()

	assert.Equal(t, int64(2), calls.Load())
}

func TestRouterIgnoresUnprefixedAndUnknown(t *testing.T) {
	r, session := newTestRouter(t, allowAll)

	var calls atomic.Int64
	require.NoError(
		t, r.Register(
			&Command{
				Aliases: []string{"ping"},
				Handler: func(_ *CommandContext) error {
					calls.Add(1)
					return nil
				},
			},
		),
	)

	r.Dispatch(newMessageCreate("u1", "c1", "ping"))
	r.Dispatch(newMessageCreate("u1", "c1", "just chatting about !ping"))
	r.Dispatch(newMessageCreate("u1", "c1", "!unknown"))
	r.Dispatch(newMessageCreate("u1", "c1", "!"))
	r.Dispatch(newMessageCreate("u1", "c1", ""))
	r.Wait()

	// Unknown triggers are a normal negative result: no reply, no error.
	assert.Equal(t, int64(0), calls.Load())
	assert.Empty(t, session.sentMessages())
}

func TestRouterAliases(t *testing.T) {
	r, _ := newTestRouter(t, allowAll)

	var calls atomic.Int64
	cmd := &Command{
		Aliases: []string{"remind", "remindme"},
		Handler: func(_ *CommandContext) error {
			calls.Add(1)
			return nil
		},
	}
	require.NoError(t, r.Register(cmd))
	assert.Equal(t, "remind", cmd.Name())

	r.Dispatch(newMessageCreate("u1", "c1", "!remind 1h tea"))
	r.Dispatch(newMessageCreate("u1", "c1", "!remindme 1h tea"))
	r.Wait()
	assert.Equal(t, int64(2), calls.Load())
}

func TestRouterRejectsAliasCollision(t *testing.T) {
	r, _ := newTestRouter(t, allowAll)
	handler := func(_ *CommandContext) error { return nil }

	require.NoError(
		t,
		r.Register(&Command{Aliases: []string{"tag", "tags"}, Handler: handler}),
	)

	// Collision within the same scope.
	err := r.Register(&Command{Aliases: []string{"tags"}, Handler: handler})
	assert.Error(t, err)

	// Collision across scopes is rejected too.
	err = r.RegisterAdmin(&Command{Aliases: []string{"tag"}, Handler: handler})
	assert.Error(t, err)

	// Aliases from a rejected registration must not linger.
	r.Dispatch(newMessageCreate("u1", "c1", "!tags"))
	r.Wait()
	assert.Len(t, r.Commands(), 1)
	assert.Empty(t, r.AdminCommands())
}

func TestRouterRejectsInvalidCommands(t *testing.T) {
	r, _ := newTestRouter(t, allowAll)
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&Command{Handler: func(_ *CommandContext) error { return nil }}))
	assert.Error(t, r.Register(&Command{Aliases: []string{"x"}}))
}

func TestRouterAdminPermissionDenied(t *testing.T) {
	r, session := newTestRouter(t, denyAll)

	var calls atomic.Int64
	require.NoError(
		t, r.RegisterAdmin(
			&Command{
				Aliases: []string{"admin"},
				Handler: func(_ *CommandContext) error {
					calls.Add(1)
					return nil
				},
			},
		),
	)

	r.Dispatch(newMessageCreate("u1", "c1", "!admin pause"))
	r.Wait()

	assert.Equal(t, int64(0), calls.Load())
	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, permissionDeniedNotice, sent[0].Content)
}

func TestRouterAdminPermissionGranted(t *testing.T) {
	r, _ := newTestRouter(t, allowAll)

	var calls atomic.Int64
	require.NoError(
		t, r.RegisterAdmin(
			&Command{
				Aliases: []string{"admin"},
				Handler: func(_ *CommandContext) error {
					calls.Add(1)
					return nil
				},
			},
		),
	)

	r.Dispatch(newMessageCreate("u1", "c1", "!admin status"))
	r.Wait()
	assert.Equal(t, int64(1), calls.Load())
}

func TestRouterRequiredPermissions(t *testing.T) {
	granted := map[int64]bool{discordgo.PermissionManageMessages: false}
	r, session := newTestRouter(
		t,
		func(_ *discordgo.MessageCreate, permission int64) bool {
			return granted[permission]
		},
	)

	var calls atomic.Int64
	require.NoError(
		t, r.Register(
			&Command{
				Aliases:             []string{"purgetag"},
				RequiredPermissions: []int64{discordgo.PermissionManageMessages},
				Handler: func(_ *CommandContext) error {
					calls.Add(1)
					return nil
				},
			},
		),
	)

	r.Dispatch(newMessageCreate("u1", "c1", "!purgetag"))
	r.Wait()
	assert.Equal(t, int64(0), calls.Load())
	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, permissionDeniedNotice, sent[0].Content)

	granted[discordgo.PermissionManageMessages] = true
	r.Dispatch(newMessageCreate("u1", "c1", "!purgetag"))
	r.Wait()
	assert.Equal(t, int64(1), calls.Load())
}

func TestRouterHandlerErrorNotifies(t *testing.T) {
	r, session := newTestRouter(t, allowAll)
	require.NoError(
		t, r.Register(
			&Command{
				Aliases: []string{"broken"},
				Handler: func(_ *CommandContext) error {
					return errors.New("database on fire")
				},
			},
		),
	)

	r.Dispatch(newMessageCreate("u1", "c1", "!broken"))
	r.Wait()

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, commandFailedNotice, sent[0].Content)
}

func TestRouterRecoversHandlerPanic(t *testing.T) {
	r, session := newTestRouter(t, allowAll)
	require.NoError(
		t, r.Register(
			&Command{
				Aliases: []string{"explode"},
				Handler: func(_ *CommandContext) error { panic("boom") },
			},
		),
	)

	assert.NotPanics(
		t,
		func() {
			r.Dispatch(newMessageCreate("u1", "c1", "!explode"))
			r.Wait()
		},
	)
	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, commandFailedNotice, sent[0].Content)

	// The router still dispatches after a panic.
	var calls atomic.Int64
	require.NoError(
		t, r.Register(
			&Command{
				Aliases: []string{"ping"},
				Handler: func(_ *CommandContext) error {
					calls.Add(1)
					return nil
				},
			},
		),
	)
	r.Dispatch(newMessageCreate("u1", "c1", "!ping"))
	r.Wait()
	assert.Equal(t, int64(1), calls.Load())
}

func TestRouterSoftCommandFallback(t *testing.T) {
	r, _ := newTestRouter(t, allowAll)

	var hardCalls, softCalls atomic.Int64
	var softTrigger atomic.Value
	require.NoError(
		t, r.Register(
			&Command{
				Aliases: []string{"ping"},
				Handler: func(_ *CommandContext) error {
					hardCalls.Add(1)
					return nil
				},
			},
		),
	)
	r.SetSoftCommand(
		func(_ *CommandContext, trigger string) bool {
			softCalls.Add(1)
			softTrigger.Store(trigger)
			return false
		},
	)

	// The fallback is consulted only when no hard command matches.
	r.Dispatch(newMessageCreate("u1", "c1", "!ping"))
	r.Wait()
	assert.Equal(t, int64(1), hardCalls.Load())
	assert.Equal(t, int64(0), softCalls.Load())

	r.Dispatch(newMessageCreate("u1", "c1", "!sometag"))
	r.Wait()
	assert.Equal(t, int64(1), softCalls.Load())
	assert.Equal(t, "sometag", softTrigger.Load())
}

func TestCommandContextReplyRecordsOwnership(t *testing.T) {
	r, session := newTestRouter(t, allowAll)

	var replyID atomic.Value
	require.NoError(
		t, r.Register(
			&Command{
				Aliases: []string{"ping"},
				Handler: func(ctx *CommandContext) error {
					msg, err := ctx.Reply("pong!")
					if err != nil {
						return err
					}
					replyID.Store(msg.ID)
					return nil
				},
			},
		),
	)

	r.Dispatch(newMessageCreate("u1", "c1", "!ping"))
	r.Wait()

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "pong!", sent[0].Content)
	require.NotNil(t, sent[0].Data)
	require.NotNil(t, sent[0].Data.AllowedMentions)
	assert.Empty(t, sent[0].Data.AllowedMentions.Parse)

	id, ok := replyID.Load().(string)
	require.True(t, ok)
	assert.True(t, r.ownership.IsOwner(id, "u1"))
}
