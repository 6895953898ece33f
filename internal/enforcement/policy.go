package enforcement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/l0p7/gatewarden/internal/config"
	"github.com/l0p7/gatewarden/internal/denylist"
	"github.com/l0p7/gatewarden/internal/expr"
	"github.com/l0p7/gatewarden/internal/metrics"
	"github.com/l0p7/gatewarden/internal/templates"
)

// ErrNoCommunity is returned by Target.Ban when the event carries no
// community (guild) context to remove the user from.
var ErrNoCommunity = errors.New("enforcement: no community context")

// EntryPoint names the event surface a check was triggered from.
type EntryPoint string

const (
	EntryMessage    EntryPoint = "message"
	EntryMemberJoin EntryPoint = "member_join"
	EntryCommand    EntryPoint = "command"
)

// Lookups answers denylist lookups. *denylist.Cache satisfies it.
type Lookups interface {
	Get(ctx context.Context, userID uint64) *denylist.Entry
}

// Decision is the result of evaluating one user. The zero value allows.
type Decision struct {
	UserID uint64
	Denied bool
	Reason string
	Mode   denylist.Mode
	// Exempted is set when a denylisted user was allowed by the exemption rule.
	Exempted bool
	CheckID  string
}

func (d Decision) label() string {
	switch {
	case d.Denied:
		return "deny"
	case d.Exempted:
		return "exempt"
	default:
		return "allow"
	}
}

// Notice is the user-facing denial message handed to the transport.
type Notice struct {
	Title  string
	Body   string
	Reason string
	Mode   denylist.Mode
}

// Target is the transport capability set consumed by Apply.
type Target interface {
	// Notify delivers the denial notice to the user.
	Notify(ctx context.Context, notice Notice) error
	// Ban removes the user from the current community with an audit reason.
	Ban(ctx context.Context, userID uint64, auditReason string) error
}

// Outcome reports what Apply did. Side-effect failures never change the
// decision.
type Outcome struct {
	Decision Decision
	Ban      metrics.ActionResult
	Notice   metrics.ActionResult
}

// Check identifies one enforcement check at an entry point.
type Check struct {
	UserID     uint64
	GuildID    string
	EntryPoint EntryPoint
}

// PolicyOptions wires a Policy.
type PolicyOptions struct {
	Lookups     Lookups
	Enforcement config.EnforcementConfig
	Metrics     *metrics.Recorder
}

// Policy turns denylist lookups into decisions and applies them through a
// transport target.
type Policy struct {
	lookups Lookups
	title   string
	notice  *templates.Template
	exempt  *expr.Program
	metrics *metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewPolicy compiles the notice template and optional exemption rule.
func NewPolicy(logger *slog.Logger, opts PolicyOptions) (*Policy, error) {
	if opts.Lookups == nil {
		return nil, errors.New("enforcement: lookups required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	notice, err := templates.NewRenderer().Compile("notice", opts.Enforcement.Notice.Template)
	if err != nil {
		return nil, fmt.Errorf("enforcement: notice template: %w", err)
	}
	if notice == nil {
		notice, err = templates.NewRenderer().Compile("notice", config.DefaultNoticeTemplate)
		if err != nil {
			return nil, fmt.Errorf("enforcement: default notice template: %w", err)
		}
	}
	p := &Policy{
		lookups: opts.Lookups,
		title:   opts.Enforcement.Notice.Title,
		notice:  notice,
		metrics: opts.Metrics,
		logger:  logger.With(slog.String("agent", "enforcement")),
		now:     time.Now,
	}
	if opts.Enforcement.Exempt != "" {
		env, err := expr.NewEnvironment()
		if err != nil {
			return nil, err
		}
		program, err := env.Compile(opts.Enforcement.Exempt)
		if err != nil {
			return nil, fmt.Errorf("enforcement: exempt rule: %w", err)
		}
		p.exempt = &program
	}
	return p, nil
}

// Evaluate decides whether userID is allowed. It never fails: a missing or
// failed lookup allows.
func (p *Policy) Evaluate(ctx context.Context, userID uint64) Decision {
	entry := p.lookups.Get(ctx, userID)
	if entry == nil {
		return Decision{UserID: userID}
	}
	return Decision{UserID: userID, Denied: true, Reason: entry.Reason, Mode: entry.Mode}
}

// Check evaluates a user at an entry point, applies the exemption rule and
// records the decision.
func (p *Policy) Check(ctx context.Context, check Check) Decision {
	decision := p.Evaluate(ctx, check.UserID)
	decision.CheckID = uuid.NewString()
	if decision.Denied && p.exempted(ctx, check, decision) {
		decision.Denied = false
		decision.Exempted = true
	}
	p.metrics.ObserveDecision(string(check.EntryPoint), decision.label(), string(decision.Mode))
	if decision.Denied || decision.Exempted {
		p.logger.Info("denylist decision",
			slog.String("check_id", decision.CheckID),
			slog.String("entry_point", string(check.EntryPoint)),
			slog.Uint64("user_id", check.UserID),
			slog.String("guild_id", check.GuildID),
			slog.String("decision", decision.label()),
			slog.String("mode", string(decision.Mode)),
		)
	}
	return decision
}

func (p *Policy) exempted(ctx context.Context, check Check, decision Decision) bool {
	if p.exempt == nil {
		return false
	}
	matched, err := p.exempt.EvalBool(ctx, map[string]any{
		"user_id":     strconv.FormatUint(check.UserID, 10),
		"guild_id":    check.GuildID,
		"entry_point": string(check.EntryPoint),
		"mode":        string(decision.Mode),
		"reason":      decision.Reason,
		"now":         p.now(),
	})
	if err != nil {
		p.logger.Warn("exempt rule evaluation failed",
			slog.String("check_id", decision.CheckID),
			slog.String("rule", p.exempt.Source()),
			slog.Any("error", err),
		)
		// Evaluation errors fail open.
		return true
	}
	return matched
}

// Notice renders the user-facing notice for a deny decision.
func (p *Policy) Notice(decision Decision) Notice {
	notice := Notice{Title: p.title, Reason: decision.Reason, Mode: decision.Mode}
	body, err := p.notice.Render(map[string]any{
		"Reason": decision.Reason,
		"Mode":   string(decision.Mode),
		"UserID": strconv.FormatUint(decision.UserID, 10),
	})
	if err != nil {
		p.logger.Warn("notice render failed", slog.String("check_id", decision.CheckID), slog.Any("error", err))
		body = fmt.Sprintf("Reason: %s\nMode: %s", decision.Reason, decision.Mode)
	}
	notice.Body = body
	return notice
}

// Apply carries out a decision. Allow is a no-op. Deny removes the user first
// when the mode is global_ban, then always sends the notice. Failures of
// either action are logged and reported in the Outcome only.
func (p *Policy) Apply(ctx context.Context, decision Decision, target Target) Outcome {
	return p.apply(ctx, decision, target, true)
}

func (p *Policy) apply(ctx context.Context, decision Decision, target Target, notify bool) Outcome {
	outcome := Outcome{Decision: decision, Ban: metrics.ActionSkipped, Notice: metrics.ActionSkipped}
	if !decision.Denied {
		return outcome
	}
	logger := p.logger.With(slog.String("check_id", decision.CheckID), slog.Uint64("user_id", decision.UserID))

	if decision.Mode == denylist.ModeGlobalBan {
		err := target.Ban(ctx, decision.UserID, AuditReason(decision.Reason))
		switch {
		case err == nil:
			outcome.Ban = metrics.ActionSucceeded
			logger.Info("global ban applied")
		case errors.Is(err, ErrNoCommunity):
			logger.Debug("global ban skipped without community context")
		default:
			outcome.Ban = metrics.ActionFailed
			logger.Warn("global ban failed", slog.Any("error", err))
		}
		p.metrics.ObserveAction("ban", outcome.Ban)
	}

	if !notify {
		return outcome
	}
	if err := target.Notify(ctx, p.Notice(decision)); err != nil {
		outcome.Notice = metrics.ActionFailed
		logger.Warn("denial notice failed", slog.Any("error", err))
	} else {
		outcome.Notice = metrics.ActionSucceeded
	}
	p.metrics.ObserveAction("notice", outcome.Notice)
	return outcome
}

// AuditReason formats the reason recorded on a global ban.
func AuditReason(reason string) string {
	if reason == "" {
		reason = noReason
	}
	return "Global Ban: " + reason
}

const noReason = "no reason provided"
