package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/l0p7/gatewarden/internal/appeal"
	"github.com/l0p7/gatewarden/internal/config"
	"github.com/l0p7/gatewarden/internal/enforcement"
)

const eventTimeout = 15 * time.Second

// session is the subset of *discordgo.Session the bot drives.
type session interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// AppealService is the appeal store surface used by the commands.
type AppealService interface {
	Submit(ctx context.Context, userID uint64, reason string) (bool, error)
	Get(ctx context.Context, userID uint64) (*appeal.Record, error)
	Review(ctx context.Context, userID uint64, outcome appeal.Status, reviewerID uint64) (bool, error)
	ListPending(ctx context.Context) ([]appeal.Record, error)
}

// CacheInvalidator drops a cached denylist answer.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID uint64) error
}

// Options wires a Bot.
type Options struct {
	Discord     config.DiscordConfig
	NoticeTTL   time.Duration
	Reviewers   []string
	Adapters    *enforcement.Adapters
	Appeals     AppealService
	Invalidator CacheInvalidator
}

// Bot connects the enforcement adapters and appeal commands to the gateway.
type Bot struct {
	session     session
	adapters    *enforcement.Adapters
	appeals     AppealService
	invalidator CacheInvalidator
	prefix      string
	guildID     string
	noticeTTL   time.Duration
	reviewers   map[string]struct{}
	logger      *slog.Logger

	connected atomic.Bool
	mu        sync.RWMutex
	ctx       context.Context
	closing   bool
	pending   sync.WaitGroup
}

// New opens a discordgo session for the configured token. The gateway is not
// contacted until Run.
func New(logger *slog.Logger, opts Options) (*Bot, error) {
	token := strings.TrimSpace(opts.Discord.Token)
	if token == "" {
		return nil, errors.New("discord: token required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	return newBot(logger, s, opts)
}

func newBot(logger *slog.Logger, s session, opts Options) (*Bot, error) {
	if opts.Adapters == nil {
		return nil, errors.New("discord: enforcement adapters required")
	}
	if opts.Appeals == nil {
		return nil, errors.New("discord: appeal store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	prefix := opts.Discord.Prefix
	if prefix == "" {
		prefix = "!"
	}
	reviewers := make(map[string]struct{}, len(opts.Reviewers))
	for _, id := range opts.Reviewers {
		reviewers[strings.TrimSpace(id)] = struct{}{}
	}
	return &Bot{
		session:     s,
		adapters:    opts.Adapters,
		appeals:     opts.Appeals,
		invalidator: opts.Invalidator,
		prefix:      prefix,
		guildID:     opts.Discord.GuildID,
		noticeTTL:   opts.NoticeTTL,
		reviewers:   reviewers,
		logger:      logger.With(slog.String("agent", "discord")),
		ctx:         context.Background(),
	}, nil
}

// Run connects to the gateway and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.closing = false
	b.mu.Unlock()

	removers := []func(){
		b.session.AddHandler(b.onReady),
		b.session.AddHandler(b.onDisconnect),
		b.session.AddHandler(b.onMessageCreate),
		b.session.AddHandler(b.onGuildMemberAdd),
		b.session.AddHandler(b.onInteractionCreate),
	}
	defer func() {
		for _, remove := range removers {
			remove()
		}
	}()

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	b.logger.Info("gateway session opened")

	<-ctx.Done()
	b.connected.Store(false)
	b.mu.Lock()
	b.closing = true
	b.mu.Unlock()
	closeErr := b.session.Close()
	b.pending.Wait()
	if closeErr != nil {
		return fmt.Errorf("discord: close gateway: %w", closeErr)
	}
	b.logger.Info("gateway session closed")
	return nil
}

// Ready reports whether the gateway session is established.
func (b *Bot) Ready() error {
	if !b.connected.Load() {
		return errors.New("discord: gateway not connected")
	}
	return nil
}

func (b *Bot) baseContext() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx
}

func (b *Bot) eventContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.baseContext(), eventTimeout)
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.connected.Store(true)
	appID := ""
	switch {
	case r.Application != nil && r.Application.ID != "":
		appID = r.Application.ID
	case r.User != nil:
		appID = r.User.ID
	}
	b.logger.Info("gateway ready", slog.String("application_id", appID), slog.Int("guilds", len(r.Guilds)))
	if appID == "" {
		b.logger.Warn("application id unknown; slash commands not registered")
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	if err := b.registerCommands(ctx, appID); err != nil {
		b.logger.Error("slash command registration failed", slog.Any("error", err))
	}
}

func (b *Bot) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	b.connected.Store(false)
	b.logger.Warn("gateway disconnected")
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil {
		return
	}
	userID, err := parseSnowflake(m.Author.ID)
	if err != nil {
		b.logger.Warn("message author id unparseable", slog.String("author_id", m.Author.ID))
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()

	target := &messageTarget{bot: b, message: m.Message}
	proceed := b.adapters.Message(ctx, enforcement.MessageEvent{
		AuthorID:  userID,
		AuthorBot: m.Author.Bot,
		GuildID:   m.GuildID,
	}, target)
	if !proceed || m.Author.Bot {
		return
	}
	b.handlePrefixCommand(ctx, m.Message, userID)
}

func (b *Bot) onGuildMemberAdd(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
	if e.Member == nil || e.User == nil {
		return
	}
	userID, err := parseSnowflake(e.User.ID)
	if err != nil {
		b.logger.Warn("member id unparseable", slog.String("user_id", e.User.ID))
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()

	b.adapters.MemberJoin(ctx, enforcement.JoinEvent{UserID: userID, GuildID: e.GuildID}, &joinTarget{
		bot:     b,
		userID:  e.User.ID,
		guildID: e.GuildID,
	})
}

func (b *Bot) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	user := interactionUser(i.Interaction)
	if user == nil {
		return
	}
	userID, err := parseSnowflake(user.ID)
	if err != nil {
		b.logger.Warn("interaction user id unparseable", slog.String("user_id", user.ID))
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()

	data := i.ApplicationCommandData()
	if err := b.acknowledge(ctx, i.Interaction); err != nil {
		b.logger.Warn("interaction acknowledgement failed", slog.String("command", data.Name), slog.Any("error", err))
	}
	target := &interactionTarget{bot: b, interaction: i.Interaction}
	if !b.adapters.Command(ctx, enforcement.CommandEvent{UserID: userID, GuildID: i.GuildID, Name: data.Name}, target) {
		return
	}
	b.dispatchCommand(ctx, i.Interaction, data, userID)
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func parseSnowflake(id string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(id), 10, 64)
}
