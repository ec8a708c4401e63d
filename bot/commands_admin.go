package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// commandAdmin groups runtime administration:
// `!admin pause|resume|status|ignore @user|setstatus <text>`.
func (b *Bot) commandAdmin() *Command {
	return &Command{
		Aliases:     []string{"admin"},
		Description: "Runtime administration: `admin pause|resume|status|ignore|setstatus`",
		Handler: func(ctx *CommandContext) error {
			sub, rest, _ := strings.Cut(strings.TrimSpace(ctx.Args), " ")
			rest = strings.TrimSpace(rest)
			bg := context.Background()
			switch strings.ToLower(sub) {
			case "pause":
				if !b.Pause(bg) {
					_, err := ctx.Reply("Already paused.")
					return err
				}
				_, err := ctx.Reply("Paused. Commands will be ignored until `admin resume`.")
				return err
			case "resume":
				if !b.Resume(bg) {
					_, err := ctx.Reply("Not paused.")
					return err
				}
				_, err := ctx.Reply("Resumed.")
				return err
			case "status":
				return b.adminStatus(ctx)
			case "ignore":
				return b.adminIgnore(ctx, rest)
			case "setstatus":
				return b.adminSetStatus(ctx, rest)
			default:
				_, err := ctx.Reply(
					"Usage: `admin pause|resume|status|ignore @user|setstatus <text>`",
				)
				return err
			}
		},
	}
}

func (b *Bot) adminStatus(ctx *CommandContext) error {
	uptime := time.Since(b.startedAt).Round(time.Second)
	builder := NewMessageBuilder().
		Title("Bot status", "").
		AddField("Version", Version).
		AddField("Uptime", uptime.String()).
		AddField("Paused", fmt.Sprintf("%t", b.Paused())).
		AddField(
			"Pending reminders",
			fmt.Sprintf("%d", b.reminders.Pending()),
		).
		AddField(
			"Active pagination sessions",
			fmt.Sprintf("%d", b.paginator.ActiveSessions()),
		)
	_, err := ctx.ReplyBuilder(builder)
	return err
}

// adminIgnore toggles the ignored flag for a user.
func (b *Bot) adminIgnore(ctx *CommandContext, args string) error {
	targetID := parseUserMention(args)
	if targetID == "" {
		_, err := ctx.Reply("Usage: `admin ignore @user`")
		return err
	}
	var user User
	err := b.db.Where("id = ?", targetID).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_, sendErr := ctx.Reply("I haven't seen that user yet.")
			return sendErr
		}
		return fmt.Errorf("error loading user: %w", err)
	}
	user.Ignored = !user.Ignored
	if _, err = b.writeDB.Update(
		context.Background(), &user, "ignored", user.Ignored,
	); err != nil {
		return fmt.Errorf("error updating user: %w", err)
	}
	b.userCache.Delete(targetID)
	verb := "now ignoring"
	if !user.Ignored {
		verb = "no longer ignoring"
	}
	_, err = ctx.Reply(fmt.Sprintf("I'm %s <@%s>.", verb, targetID))
	return err
}

// adminSetStatus updates the bot's custom status, persisting it to the
// runtime config.
func (b *Bot) adminSetStatus(ctx *CommandContext, status string) error {
	rc := b.RuntimeConfig()
	rc.CustomStatus = status
	if _, err := b.writeDB.Update(
		context.Background(), &rc, "custom_status", status,
	); err != nil {
		return fmt.Errorf("error persisting custom status: %w", err)
	}
	b.setRuntimeConfig(rc)
	if err := b.discord.session.UpdateCustomStatus(status); err != nil {
		return fmt.Errorf("error updating custom status: %w", err)
	}
	_, err := ctx.Reply("Status updated.")
	return err
}

// commandSnippet manages moderator-curated snippets:
// `!snippet add <name> <content>` / `del <name>` / `list`.
func (b *Bot) commandSnippet() *Command {
	return &Command{
		Aliases:     []string{"snippet", "snippets"},
		Description: "Manage snippets: `snippet add|del|list`",
		Handler: func(ctx *CommandContext) error {
			sub, rest, _ := strings.Cut(strings.TrimSpace(ctx.Args), " ")
			rest = strings.TrimSpace(rest)
			switch strings.ToLower(sub) {
			case "add", "set":
				return b.snippetAdd(ctx, rest)
			case "del", "delete", "remove":
				return b.snippetDelete(ctx, rest)
			case "list":
				return b.snippetList(ctx)
			default:
				_, err := ctx.Reply("Usage: `snippet add|del|list`")
				return err
			}
		},
	}
}

// snippetAdd creates or replaces a snippet.
func (b *Bot) snippetAdd(ctx *CommandContext, args string) error {
	name, content, _ := strings.Cut(args, " ")
	name = strings.ToLower(strings.TrimSpace(name))
	content = strings.TrimSpace(content)
	if name == "" || content == "" {
		_, err := ctx.Reply("Usage: `snippet add <name> <content>`")
		return err
	}
	bg := context.Background()
	var existing Snippet
	err := b.db.Where("name = ?", name).Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		snippet := &Snippet{
			Name:     name,
			Content:  truncate(content, discordMaxMessageLength),
			AuthorID: ctx.Message.Author.ID,
		}
		if _, err = b.writeDB.Create(bg, snippet); err != nil {
			return fmt.Errorf("error creating snippet: %w", err)
		}
	case err != nil:
		return fmt.Errorf("error loading snippet: %w", err)
	default:
		existing.Content = truncate(content, discordMaxMessageLength)
		existing.AuthorID = ctx.Message.Author.ID
		if _, err = b.writeDB.Save(bg, &existing); err != nil {
			return fmt.Errorf("error updating snippet: %w", err)
		}
	}
	_, err = ctx.Reply(fmt.Sprintf("Saved snippet `%s`.", name))
	return err
}

func (b *Bot) snippetDelete(ctx *CommandContext, args string) error {
	name := strings.ToLower(strings.TrimSpace(args))
	if name == "" {
		_, err := ctx.Reply("Usage: `snippet del <name>`")
		return err
	}
	affected, err := b.writeDB.Delete(&Snippet{}, "name = ?", name)
	if err != nil {
		return fmt.Errorf("error deleting snippet: %w", err)
	}
	if affected == 0 {
		_, err = ctx.Reply(fmt.Sprintf("No snippet named `%s`.", name))
		return err
	}
	_, err = ctx.Reply(fmt.Sprintf("Deleted snippet `%s`.", name))
	return err
}

func (b *Bot) snippetList(ctx *CommandContext) error {
	var snippets []Snippet
	if err := b.db.Order("name ASC").Find(&snippets).Error; err != nil {
		return fmt.Errorf("error listing snippets: %w", err)
	}
	if len(snippets) == 0 {
		_, err := ctx.Reply("No snippets yet.")
		return err
	}
	rows := make([]string, 0, len(snippets))
	for _, s := range snippets {
		rows = append(rows, fmt.Sprintf("`%s`", s.Name))
	}
	_, err := ctx.Paginate(ChunkItems(rows, b.config.Router.PageSize))
	return err
}
