package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/l0p7/gatewarden/internal/appeal"
	"github.com/l0p7/gatewarden/internal/enforcement"
)

const (
	commandPing          = "ping"
	commandAppealReview  = "appeal-review"
	commandAppealPending = "appeal-pending"

	maxReasonLength  = 1000
	maxContentLength = 2000
	createdAtLayout  = "2006-01-02 15:04:05 MST"
)

var reviewerPermissions = int64(discordgo.PermissionBanMembers)

func commandDefinitions() []*discordgo.ApplicationCommand {
	reasonMin := 1
	return []*discordgo.ApplicationCommand{
		{
			Name:        commandPing,
			Description: "Check that the bot is responsive",
		},
		{
			Name:        enforcement.CommandAppeal,
			Description: "Appeal a denylist entry",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Why the entry should be lifted",
					Required:    true,
					MinLength:   &reasonMin,
					MaxLength:   maxReasonLength,
				},
			},
		},
		{
			Name:        enforcement.CommandAppealStatus,
			Description: "Show the status of your appeal",
		},
		{
			Name:                     commandAppealReview,
			Description:              "Approve or reject a user's appeal",
			DefaultMemberPermissions: &reviewerPermissions,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "The appealing user",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "outcome",
					Description: "Review outcome",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "approve", Value: string(appeal.StatusApproved)},
						{Name: "reject", Value: string(appeal.StatusRejected)},
					},
				},
			},
		},
		{
			Name:                     commandAppealPending,
			Description:              "List pending appeals",
			DefaultMemberPermissions: &reviewerPermissions,
		},
	}
}

func (b *Bot) registerCommands(ctx context.Context, appID string) error {
	registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, commandDefinitions(), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}
	b.logger.Info("slash commands registered", slog.Int("count", len(registered)), slog.String("guild_id", b.guildID))
	return nil
}

func (b *Bot) dispatchCommand(ctx context.Context, i *discordgo.Interaction, data discordgo.ApplicationCommandInteractionData, userID uint64) {
	var reply string
	switch data.Name {
	case commandPing:
		reply = "Pong!"
	case enforcement.CommandAppeal:
		reply = b.submitAppeal(ctx, userID, optionString(data.Options, "reason"))
	case enforcement.CommandAppealStatus:
		reply = b.appealStatus(ctx, userID)
	case commandAppealReview:
		if !b.isReviewer(i.Member, userID) {
			reply = "You are not allowed to review appeals."
			break
		}
		reply = b.reviewAppeal(ctx, userID, optionString(data.Options, "user"), optionString(data.Options, "outcome"))
	case commandAppealPending:
		if !b.isReviewer(i.Member, userID) {
			reply = "You are not allowed to review appeals."
			break
		}
		reply = b.pendingAppeals(ctx)
	default:
		b.logger.Debug("unknown command", slog.String("command", data.Name))
		reply = "Unknown command."
	}
	b.respond(ctx, i, reply)
}

func (b *Bot) handlePrefixCommand(ctx context.Context, m *discordgo.Message, userID uint64) {
	content := strings.TrimSpace(m.Content)
	if !strings.HasPrefix(content, b.prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(content, b.prefix))
	if len(fields) == 0 {
		return
	}
	var reply string
	switch strings.ToLower(fields[0]) {
	case commandPing:
		reply = "Pong!"
	case enforcement.CommandAppealStatus:
		reply = b.appealStatus(ctx, userID)
	default:
		return
	}
	_, err := b.session.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Content:         reply,
		Reference:       m.Reference(),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		b.logger.Warn("prefix command reply failed", slog.String("command", fields[0]), slog.Any("error", err))
	}
}

func (b *Bot) respond(ctx context.Context, i *discordgo.Interaction, content string) {
	content = truncate(content, maxContentLength)
	_, err := b.session.InteractionResponseEdit(i, &discordgo.WebhookEdit{
		Content:         &content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		b.logger.Warn("interaction response failed", slog.Any("error", err))
	}
}

func (b *Bot) submitAppeal(ctx context.Context, userID uint64, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "Please include a reason for your appeal."
	}
	accepted, err := b.appeals.Submit(ctx, userID, truncate(reason, maxReasonLength))
	switch {
	case err != nil:
		b.logger.Error("appeal submission failed", slog.Uint64("user_id", userID), slog.Any("error", err))
		return "Your appeal could not be recorded. Please try again later."
	case !accepted:
		return "You already have a pending appeal. Use /appeal-status to check on it."
	default:
		return "Your appeal has been submitted and is awaiting review."
	}
}

func (b *Bot) appealStatus(ctx context.Context, userID uint64) string {
	record, err := b.appeals.Get(ctx, userID)
	if err != nil {
		b.logger.Error("appeal lookup failed", slog.Uint64("user_id", userID), slog.Any("error", err))
		return "Your appeal status is unavailable right now. Please try again later."
	}
	if record == nil {
		return "You have no appeal on record."
	}
	return fmt.Sprintf("Appeal status: %s (submitted %s)", record.Status, record.CreatedAt.Format(createdAtLayout))
}

func (b *Bot) reviewAppeal(ctx context.Context, reviewerID uint64, target, outcome string) string {
	userID, err := parseSnowflake(target)
	if err != nil {
		return "That user id is not valid."
	}
	status := appeal.ParseStatus(outcome)
	updated, err := b.appeals.Review(ctx, userID, status, reviewerID)
	switch {
	case errors.Is(err, appeal.ErrUnknownStatus):
		return "Outcome must be approved or rejected."
	case err != nil:
		b.logger.Error("appeal review failed", slog.Uint64("user_id", userID), slog.Any("error", err))
		return "The review could not be recorded. Please try again later."
	case !updated:
		return fmt.Sprintf("No appeal found for <@%d>.", userID)
	}
	if status == appeal.StatusApproved && b.invalidator != nil {
		if err := b.invalidator.Invalidate(ctx, userID); err != nil {
			b.logger.Warn("denylist cache invalidation failed", slog.Uint64("user_id", userID), slog.Any("error", err))
		}
	}
	return fmt.Sprintf("Appeal for <@%d> marked %s.", userID, status)
}

func (b *Bot) pendingAppeals(ctx context.Context) string {
	pending, err := b.appeals.ListPending(ctx)
	if err != nil {
		b.logger.Error("pending appeal listing failed", slog.Any("error", err))
		return "Pending appeals are unavailable right now."
	}
	if len(pending) == 0 {
		return "No pending appeals."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d pending appeal(s):", len(pending))
	for n, record := range pending {
		line := fmt.Sprintf("\n- <@%d> (%s): %s", record.UserID, record.CreatedAt.Format(createdAtLayout), record.Reason)
		more := fmt.Sprintf("\n...and %d more", len(pending)-n)
		if sb.Len()+len(line)+len(more) > maxContentLength {
			sb.WriteString(more)
			break
		}
		sb.WriteString(line)
	}
	return sb.String()
}

func (b *Bot) isReviewer(member *discordgo.Member, userID uint64) bool {
	if len(b.reviewers) > 0 {
		_, ok := b.reviewers[strconv.FormatUint(userID, 10)]
		return ok
	}
	if member == nil {
		return false
	}
	return member.Permissions&(discordgo.PermissionBanMembers|discordgo.PermissionAdministrator) != 0
}

func optionString(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, opt := range options {
		if opt == nil || opt.Name != name {
			continue
		}
		if value, ok := opt.Value.(string); ok {
			return value
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
