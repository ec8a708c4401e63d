package bot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// MessageBuilder assembles a message payload from optional sections,
// rendered in a fixed order: author line, title, description, fields,
// then a blank line and the footer. Empty sections are skipped with no
// extraneous separators.
//
// By default the built payload allows no mentions at all, so user-sourced
// content echoed back through the bot can't mass-ping. Mention categories
// must be opted into explicitly.
type MessageBuilder struct {
	author            string
	title             string
	titleURL          string
	description       string
	fields            []messageField
	footer            string
	allowUserMentions bool
}

type messageField struct {
	name  string
	value string
}

// NewMessageBuilder returns an empty MessageBuilder.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{}
}

// Author sets the leading author line.
func (b *MessageBuilder) Author(name string) *MessageBuilder {
	b.author = name
	return b
}

// Title sets the title heading. If url is non-empty the title renders as
// a markdown link, otherwise as a bold heading.
func (b *MessageBuilder) Title(title string, url string) *MessageBuilder {
	b.title = title
	b.titleURL = url
	return b
}

// Description sets the message body.
func (b *MessageBuilder) Description(description string) *MessageBuilder {
	b.description = description
	return b
}

// AddField appends a name/value section. Fields render in insertion order.
func (b *MessageBuilder) AddField(name string, value string) *MessageBuilder {
	b.fields = append(b.fields, messageField{name: name, value: value})
	return b
}

// Footer sets the trailing footer line, rendered after a blank line.
func (b *MessageBuilder) Footer(footer string) *MessageBuilder {
	b.footer = footer
	return b
}

// AllowUserMentions permits user mentions in the built payload.
func (b *MessageBuilder) AllowUserMentions() *MessageBuilder {
	b.allowUserMentions = true
	return b
}

// Build renders the payload content and its mention policy.
func (b *MessageBuilder) Build() (string, *discordgo.MessageAllowedMentions) {
	sections := make([]string, 0, 4+len(b.fields))

	if b.author != "" {
		sections = append(sections, b.author)
	}
	if b.title != "" {
		if b.titleURL != "" {
			sections = append(sections, fmt.Sprintf("[%s](%s)", b.title, b.titleURL))
		} else {
			sections = append(sections, fmt.Sprintf("**%s**", b.title))
		}
	}
	if b.description != "" {
		sections = append(sections, b.description)
	}
	for _, f := range b.fields {
		sections = append(sections, fmt.Sprintf("**%s**\n%s", f.name, f.value))
	}
	if b.footer != "" {
		sections = append(sections, "\n"+b.footer)
	}

	allowed := &discordgo.MessageAllowedMentions{
		Parse: []discordgo.AllowedMentionType{},
	}
	if b.allowUserMentions {
		allowed.Parse = append(allowed.Parse, discordgo.AllowedMentionTypeUsers)
	}
	return strings.Join(sections, "\n"), allowed
}
