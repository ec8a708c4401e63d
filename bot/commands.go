package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// registerCommands builds the command registries. Alias collisions are
// surfaced here, at startup, so exactly one handler can ever match a
// trigger at runtime.
func (b *Bot) registerCommands() error {
	general := []*Command{
		b.commandPing(),
		b.commandHelp(),
		b.commandRep(),
		b.commandLeaderboard(),
		b.commandTag(),
		b.commandRemind(),
		b.commandHelpThread(),
	}
	for _, cmd := range general {
		if err := b.router.Register(cmd); err != nil {
			return err
		}
	}
	admin := []*Command{
		b.commandAdmin(),
		b.commandSnippet(),
	}
	for _, cmd := range admin {
		if err := b.router.RegisterAdmin(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) commandPing() *Command {
	return &Command{
		Aliases:     []string{"ping"},
		Description: "Check whether the bot is alive",
		Handler: func(ctx *CommandContext) error {
			_, err := ctx.Reply("pong!")
			return err
		},
	}
}

// commandHelp lists every general command, paginated when the list
// outgrows one page.
func (b *Bot) commandHelp() *Command {
	return &Command{
		Aliases:     []string{"help", "commands"},
		Description: "List available commands",
		Handler: func(ctx *CommandContext) error {
			prefix := b.config.Router.Prefixes[0]
			var rows []string
			for _, cmd := range b.router.Commands() {
				row := fmt.Sprintf("`%s%s`", prefix, cmd.Name())
				if len(cmd.Aliases) > 1 {
					row += fmt.Sprintf(
						" (also: %s)",
						strings.Join(cmd.Aliases[1:], ", "),
					)
				}
				if cmd.Description != "" {
					row += " — " + cmd.Description
				}
				rows = append(rows, row)
			}
			pages := ChunkItems(rows, b.config.Router.PageSize)
			_, err := ctx.Paginate(pages)
			return err
		},
	}
}

// commandRep shows a user's reputation, or gives a point:
// `!rep` / `!rep @user`.
func (b *Bot) commandRep() *Command {
	return &Command{
		Aliases:     []string{"rep", "reputation"},
		Description: "Show reputation, or give a point with `rep @user`",
		Handler: func(ctx *CommandContext) error {
			args := strings.TrimSpace(ctx.Args)
			if args == "" {
				return b.replyRep(ctx, ctx.Message.Author.ID)
			}
			targetID := parseUserMention(strings.Fields(args)[0])
			if targetID == "" {
				_, err := ctx.Reply("Usage: `rep` or `rep @user`")
				return err
			}
			granted, err := b.grantRep(
				context.Background(),
				ctx.Message.Author.ID,
				targetID,
				ctx.Message.ChannelID,
				ctx.Message.ID,
			)
			if err != nil {
				var userErr *validationError
				if errors.As(err, &userErr) {
					_, sendErr := ctx.Reply(userErr.Error())
					return sendErr
				}
				return err
			}
			if !granted {
				_, err = ctx.Reply(
					"You've given out all your rep for today. Try again later!",
				)
				return err
			}
			_, err = ctx.Reply(fmt.Sprintf("Gave +1 rep to <@%s>!", targetID))
			return err
		},
	}
}

func (b *Bot) replyRep(ctx *CommandContext, userID string) error {
	var user User
	err := b.db.Where("id = ?", userID).Take(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("error loading user: %w", err)
	}
	_, err = ctx.Reply(
		fmt.Sprintf("<@%s> has %d rep.", userID, user.Reputation),
	)
	return err
}

// validationError is a user-facing bad-input error: reported directly to
// the invoking channel, never propagated further.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

// grantRep gives one rep point from giver to recipient, enforcing the
// self-rep rejection and the per-giver daily allowance. Returns false
// (no error) when the allowance is exhausted.
func (b *Bot) grantRep(
	ctx context.Context,
	giverID string,
	recipientID string,
	channelID string,
	messageID string,
) (bool, error) {
	if giverID == recipientID {
		return false, &validationError{msg: "You can't give rep to yourself!"}
	}

	dayAgo := time.Now().Add(-24 * time.Hour).UnixMilli()
	var given int64
	err := b.db.WithContext(ctx).Model(&RepEvent{}).Where(
		"from_user_id = ? AND created_at >= ?", giverID, dayAgo,
	).Count(&given).Error
	if err != nil {
		return false, fmt.Errorf("error counting rep events: %w", err)
	}
	if given >= int64(b.config.Router.RepDailyAllowance) {
		return false, nil
	}

	event := &RepEvent{
		FromUserID: giverID,
		ToUserID:   recipientID,
		ChannelID:  channelID,
		MessageID:  messageID,
	}
	err = b.writeDB.Transaction(
		ctx,
		func(tx *gorm.DB) error {
			if txErr := tx.Create(event).Error; txErr != nil {
				return txErr
			}
			rv := tx.Model(&User{}).Where("id = ?", recipientID).Update(
				columnUserReputation,
				gorm.Expr("reputation + 1"),
			)
			if rv.Error != nil {
				return rv.Error
			}
			if rv.RowsAffected == 0 {
				user := &User{ModelStringID: ModelStringID{ID: recipientID}}
				user.Reputation = 1
				return tx.Create(user).Error
			}
			return nil
		},
	)
	if err != nil {
		return false, fmt.Errorf("error granting rep: %w", err)
	}
	b.userCache.Delete(recipientID)
	return true, nil
}

// commandLeaderboard shows the top users by reputation, paginated.
func (b *Bot) commandLeaderboard() *Command {
	return &Command{
		Aliases:     []string{"leaderboard", "top"},
		Description: "Show the reputation leaderboard",
		Handler: func(ctx *CommandContext) error {
			var users []User
			err := b.db.Where("reputation > 0").
				Order("reputation DESC").
				Limit(50).
				Find(&users).Error
			if err != nil {
				return fmt.Errorf("error loading leaderboard: %w", err)
			}
			if len(users) == 0 {
				_, err = ctx.Reply("Nobody has any rep yet!")
				return err
			}
			rows := make([]string, 0, len(users))
			for i, u := range users {
				rows = append(
					rows,
					fmt.Sprintf("%d. <@%s> — %d rep", i+1, u.ID, u.Reputation),
				)
			}
			_, err = ctx.Paginate(ChunkItems(rows, b.config.Router.PageSize))
			return err
		},
	}
}

// commandTag manages user-created tags:
// `!tag add <name> <content>`, `!tag del <name>`, `!tag list`,
// `!tag <name>`.
func (b *Bot) commandTag() *Command {
	return &Command{
		Aliases:     []string{"tag", "tags"},
		Description: "Create and recall tags: `tag add|del|list|<name>`",
		Handler: func(ctx *CommandContext) error {
			sub, rest, _ := strings.Cut(strings.TrimSpace(ctx.Args), " ")
			rest = strings.TrimSpace(rest)
			switch strings.ToLower(sub) {
			case "":
				_, err := ctx.Reply("Usage: `tag add|del|list|<name>`")
				return err
			case "add", "create":
				return b.tagAdd(ctx, rest)
			case "del", "delete", "remove":
				return b.tagDelete(ctx, rest)
			case "list":
				return b.tagList(ctx)
			default:
				return b.tagShow(ctx, strings.ToLower(sub))
			}
		},
	}
}

func (b *Bot) tagAdd(ctx *CommandContext, args string) error {
	name, content, _ := strings.Cut(args, " ")
	name = strings.ToLower(strings.TrimSpace(name))
	content = strings.TrimSpace(content)
	if name == "" || content == "" {
		_, err := ctx.Reply("Usage: `tag add <name> <content>`")
		return err
	}
	tag := &Tag{
		Name:     name,
		Content:  truncate(content, discordMaxMessageLength),
		AuthorID: ctx.Message.Author.ID,
	}
	if _, err := b.writeDB.Create(context.Background(), tag); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			_, sendErr := ctx.Reply(
				fmt.Sprintf("Tag `%s` already exists.", name),
			)
			return sendErr
		}
		return fmt.Errorf("error creating tag: %w", err)
	}
	_, err := ctx.Reply(fmt.Sprintf("Created tag `%s`.", name))
	return err
}

func (b *Bot) tagDelete(ctx *CommandContext, args string) error {
	name := strings.ToLower(strings.TrimSpace(args))
	if name == "" {
		_, err := ctx.Reply("Usage: `tag del <name>`")
		return err
	}
	var tag Tag
	err := b.db.Where("name = ?", name).Take(&tag).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_, sendErr := ctx.Reply(fmt.Sprintf("No tag named `%s`.", name))
			return sendErr
		}
		return fmt.Errorf("error loading tag: %w", err)
	}
	// Owners delete their own tags; moderators can delete any.
	if tag.AuthorID != ctx.Message.Author.ID {
		_, err = ctx.Reply("Only the tag's author can delete it.")
		return err
	}
	if _, err = b.writeDB.Delete(&Tag{}, "id = ?", tag.ID); err != nil {
		return fmt.Errorf("error deleting tag: %w", err)
	}
	_, err = ctx.Reply(fmt.Sprintf("Deleted tag `%s`.", name))
	return err
}

func (b *Bot) tagList(ctx *CommandContext) error {
	var tags []Tag
	err := b.db.Order("uses DESC, name ASC").Find(&tags).Error
	if err != nil {
		return fmt.Errorf("error listing tags: %w", err)
	}
	if len(tags) == 0 {
		_, err = ctx.Reply("No tags yet. Create one with `tag add`!")
		return err
	}
	rows := make([]string, 0, len(tags))
	for _, t := range tags {
		rows = append(rows, fmt.Sprintf("`%s` (%d uses)", t.Name, t.Uses))
	}
	_, err = ctx.Paginate(ChunkItems(rows, b.config.Router.PageSize))
	return err
}

func (b *Bot) tagShow(ctx *CommandContext, name string) error {
	var tag Tag
	err := b.db.Where("name = ?", name).Take(&tag).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_, sendErr := ctx.Reply(fmt.Sprintf("No tag named `%s`.", name))
			return sendErr
		}
		return fmt.Errorf("error loading tag: %w", err)
	}
	if _, err = b.writeDB.Update(
		context.Background(), &tag, columnTagUses, gorm.Expr("uses + 1"),
	); err != nil {
		b.logger.Warn("error incrementing tag uses", "tag", tag.Name)
	}
	_, err = ctx.Reply(tag.Content)
	return err
}

// commandRemind schedules a reminder: `!remind 1h30m take a break`.
func (b *Bot) commandRemind() *Command {
	return &Command{
		Aliases:     []string{"remind", "remindme", "reminder"},
		Description: "Schedule a DM reminder: `remind <duration> <message>`",
		Handler: func(ctx *CommandContext) error {
			durToken, payload, _ := strings.Cut(
				strings.TrimSpace(ctx.Args), " ",
			)
			payload = strings.TrimSpace(payload)
			if durToken == "" || payload == "" {
				_, err := ctx.Reply(
					"Usage: `remind <duration> <message>` (e.g. `remind 1h30m take a break`)",
				)
				return err
			}
			duration, err := parseHumanDuration(durToken)
			if err != nil {
				_, sendErr := ctx.Reply(
					fmt.Sprintf("I couldn't parse %q as a duration.", durToken),
				)
				return sendErr
			}
			reminder, err := b.reminders.Schedule(
				context.Background(),
				ctx.Message.Author.ID,
				duration,
				truncate(payload, discordMaxMessageLength/2),
			)
			if err != nil {
				if errors.Is(err, ErrReminderTooSoon) ||
					errors.Is(err, ErrReminderTooFar) {
					_, sendErr := ctx.Reply(err.Error())
					return sendErr
				}
				return err
			}
			_, err = ctx.Reply(
				fmt.Sprintf(
					"Alright, I'll remind you <t:%d:R>.",
					time.UnixMilli(reminder.DueAt).Unix(),
				),
			)
			return err
		},
	}
}

// commandHelpThread manages help-thread bookkeeping:
// `!helpthread open <title>` / `claim` / `resolve`.
func (b *Bot) commandHelpThread() *Command {
	return &Command{
		Aliases:     []string{"helpthread", "ht"},
		Description: "Help thread bookkeeping: `helpthread open|claim|resolve`",
		Handler: func(ctx *CommandContext) error {
			sub, rest, _ := strings.Cut(strings.TrimSpace(ctx.Args), " ")
			channelID := ctx.Message.ChannelID
			userID := ctx.Message.Author.ID
			bg := context.Background()
			switch strings.ToLower(sub) {
			case "open":
				thread, err := b.helpThreads.Open(
					bg, channelID, userID, strings.TrimSpace(rest),
				)
				if err != nil {
					_, sendErr := ctx.Reply(err.Error())
					return sendErr
				}
				_, err = ctx.Reply(
					fmt.Sprintf(
						"Opened a help thread for <@%s>. A helper can `%sht claim` it.",
						thread.OwnerUserID,
						b.config.Router.Prefixes[0],
					),
				)
				return err
			case "claim":
				thread, err := b.helpThreads.Claim(bg, channelID, userID)
				if err != nil {
					if errors.Is(err, ErrNoOpenHelpThread) {
						_, sendErr := ctx.Reply(err.Error())
						return sendErr
					}
					return err
				}
				_, err = ctx.Reply(
					fmt.Sprintf("<@%s> is on it!", thread.ClaimedByID),
				)
				return err
			case "resolve", "close":
				_, err := b.helpThreads.Resolve(bg, channelID)
				if err != nil {
					if errors.Is(err, ErrNoOpenHelpThread) {
						_, sendErr := ctx.Reply(err.Error())
						return sendErr
					}
					return err
				}
				_, err = ctx.Reply("Marked this thread as resolved. 🎉")
				return err
			default:
				_, err := ctx.Reply("Usage: `helpthread open|claim|resolve`")
				return err
			}
		},
	}
}

// softCommandLookup is consulted only after the router confirms no hard
// command matched: bare `!<name>` resolves tags first, then snippets.
// Lookup misses are a normal negative result and produce no reply.
func (b *Bot) softCommandLookup(ctx *CommandContext, trigger string) bool {
	var tag Tag
	err := b.db.Where("name = ?", trigger).Take(&tag).Error
	if err == nil {
		if _, updErr := b.writeDB.Update(
			context.Background(), &tag, columnTagUses, gorm.Expr("uses + 1"),
		); updErr != nil {
			b.logger.Warn("error incrementing tag uses", "tag", tag.Name)
		}
		if _, sendErr := ctx.Reply(tag.Content); sendErr != nil {
			b.logger.Error("error sending tag content", "tag", tag.Name)
		}
		return true
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		b.logger.Error("error resolving soft command", "trigger", trigger)
		return false
	}

	var snippet Snippet
	err = b.db.Where("name = ?", trigger).Take(&snippet).Error
	if err != nil {
		return false
	}
	if _, sendErr := ctx.Reply(snippet.Content); sendErr != nil {
		b.logger.Error("error sending snippet content", "snippet", snippet.Name)
	}
	return true
}
