package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/l0p7/gatewarden/internal/enforcement"
)

const (
	noticeColor    = 0xE74C3C
	deleteTimeout  = 5 * time.Second
	ackTimeout     = 2 * time.Second
	banDeleteDays  = 0
	noticeFallback = "You are not allowed to use this bot."
)

func noticeEmbed(notice enforcement.Notice) *discordgo.MessageEmbed {
	body := notice.Body
	if body == "" {
		body = noticeFallback
	}
	return &discordgo.MessageEmbed{
		Title:       notice.Title,
		Description: body,
		Color:       noticeColor,
	}
}

func (b *Bot) ban(ctx context.Context, guildID string, userID uint64, auditReason string) error {
	if guildID == "" {
		return enforcement.ErrNoCommunity
	}
	id := strconv.FormatUint(userID, 10)
	if err := b.session.GuildBanCreateWithReason(guildID, id, auditReason, banDeleteDays, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: ban %s in %s: %w", id, guildID, err)
	}
	return nil
}

// messageTarget answers an inbound message with a reply that removes itself
// after the notice TTL.
type messageTarget struct {
	bot     *Bot
	message *discordgo.Message
}

func (t *messageTarget) Notify(ctx context.Context, notice enforcement.Notice) error {
	sent, err := t.bot.session.ChannelMessageSendComplex(t.message.ChannelID, &discordgo.MessageSend{
		Embeds:          []*discordgo.MessageEmbed{noticeEmbed(notice)},
		Reference:       t.message.Reference(),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: reply notice: %w", err)
	}
	if sent != nil && t.bot.noticeTTL > 0 {
		t.bot.scheduleDelete(sent.ChannelID, sent.ID, t.bot.noticeTTL)
	}
	return nil
}

func (t *messageTarget) Ban(ctx context.Context, userID uint64, auditReason string) error {
	return t.bot.ban(ctx, t.message.GuildID, userID, auditReason)
}

// interactionTarget answers a command invocation by editing its deferred
// ephemeral response.
type interactionTarget struct {
	bot         *Bot
	interaction *discordgo.Interaction
}

func (t *interactionTarget) Notify(ctx context.Context, notice enforcement.Notice) error {
	embeds := []*discordgo.MessageEmbed{noticeEmbed(notice)}
	_, err := t.bot.session.InteractionResponseEdit(t.interaction, &discordgo.WebhookEdit{
		Embeds: &embeds,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: interaction notice: %w", err)
	}
	return nil
}

func (t *interactionTarget) Ban(ctx context.Context, userID uint64, auditReason string) error {
	return t.bot.ban(ctx, t.interaction.GuildID, userID, auditReason)
}

// joinTarget reaches a joining member through a direct message.
type joinTarget struct {
	bot     *Bot
	userID  string
	guildID string
}

func (t *joinTarget) Notify(ctx context.Context, notice enforcement.Notice) error {
	channel, err := t.bot.session.UserChannelCreate(t.userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: open dm: %w", err)
	}
	_, err = t.bot.session.ChannelMessageSendComplex(channel.ID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{noticeEmbed(notice)},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: dm notice: %w", err)
	}
	return nil
}

func (t *joinTarget) Ban(ctx context.Context, userID uint64, auditReason string) error {
	return t.bot.ban(ctx, t.guildID, userID, auditReason)
}

// acknowledge defers the response to a command so the denylist check may
// outlast Discord's three second reply window. Later answers edit it.
func (b *Bot) acknowledge(ctx context.Context, i *discordgo.Interaction) error {
	ctx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	return b.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
}

// scheduleDelete removes a message after ttl. Pending deletions run early
// when the bot shuts down, and once shutdown has begun the message is
// removed immediately.
func (b *Bot) scheduleDelete(channelID, messageID string, ttl time.Duration) {
	b.mu.Lock()
	base := b.ctx
	if b.closing {
		b.mu.Unlock()
		b.deleteNotice(base, channelID, messageID)
		return
	}
	b.pending.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.pending.Done()
		timer := time.NewTimer(ttl)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-base.Done():
		}
		b.deleteNotice(base, channelID, messageID)
	}()
}

func (b *Bot) deleteNotice(base context.Context, channelID, messageID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(base), deleteTimeout)
	defer cancel()
	if err := b.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		b.logger.Debug("notice cleanup failed",
			slog.String("channel_id", channelID),
			slog.String("message_id", messageID),
			slog.Any("error", err))
	}
}
