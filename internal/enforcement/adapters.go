package enforcement

import "context"

// Commands that stay reachable for denylisted users so they can always file
// or follow up on an appeal. Matched by name, not by registered command id.
const (
	CommandAppeal       = "appeal"
	CommandAppealStatus = "appeal-status"
)

var bypassCommands = map[string]struct{}{
	CommandAppeal:       {},
	CommandAppealStatus: {},
}

// Bypassed reports whether a command skips the denylist check.
func Bypassed(name string) bool {
	_, ok := bypassCommands[name]
	return ok
}

// MessageEvent describes an inbound chat message.
type MessageEvent struct {
	AuthorID  uint64
	AuthorBot bool
	GuildID   string
}

// JoinEvent describes a member joining a community.
type JoinEvent struct {
	UserID  uint64
	GuildID string
}

// CommandEvent describes an invoked command or interaction.
type CommandEvent struct {
	UserID  uint64
	GuildID string
	Name    string
}

// Adapters hook the policy into each event surface.
type Adapters struct {
	policy       *Policy
	notifyOnJoin bool
}

// NewAdapters binds the entry points to a policy. notifyOnJoin controls
// whether a denied joiner is sent the notice.
func NewAdapters(policy *Policy, notifyOnJoin bool) *Adapters {
	return &Adapters{policy: policy, notifyOnJoin: notifyOnJoin}
}

// Message checks the author of an inbound message. Automated authors are not
// checked. It returns true when normal message processing should continue.
func (a *Adapters) Message(ctx context.Context, ev MessageEvent, target Target) bool {
	if ev.AuthorBot {
		return true
	}
	decision := a.policy.Check(ctx, Check{UserID: ev.AuthorID, GuildID: ev.GuildID, EntryPoint: EntryMessage})
	if !decision.Denied {
		return true
	}
	a.policy.Apply(ctx, decision, target)
	return false
}

// MemberJoin checks a joining member before any other join handling runs.
func (a *Adapters) MemberJoin(ctx context.Context, ev JoinEvent, target Target) Outcome {
	decision := a.policy.Check(ctx, Check{UserID: ev.UserID, GuildID: ev.GuildID, EntryPoint: EntryMemberJoin})
	return a.policy.apply(ctx, decision, target, a.notifyOnJoin)
}

// Command is the precondition run before every command body. It returns true
// when the command may run.
func (a *Adapters) Command(ctx context.Context, ev CommandEvent, target Target) bool {
	if Bypassed(ev.Name) {
		return true
	}
	decision := a.policy.Check(ctx, Check{UserID: ev.UserID, GuildID: ev.GuildID, EntryPoint: EntryCommand})
	if !decision.Denied {
		return true
	}
	a.policy.Apply(ctx, decision, target)
	return false
}
