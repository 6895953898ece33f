package enforcement_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/gatewarden/internal/config"
	"github.com/l0p7/gatewarden/internal/denylist"
	"github.com/l0p7/gatewarden/internal/enforcement"
	"github.com/l0p7/gatewarden/internal/metrics"
	enforcementmocks "github.com/l0p7/gatewarden/internal/mocks/enforcement"
)

func deniedLookups() *staticLookups {
	return &staticLookups{entries: map[uint64]*denylist.Entry{
		42: {Mode: denylist.ModeStandard, Reason: "spam"},
		43: {Mode: denylist.ModeGlobalBan, Reason: "raid"},
	}}
}

func TestMessageAdapter(t *testing.T) {
	t.Run("denied author is suppressed and notified", func(t *testing.T) {
		adapters := enforcement.NewAdapters(newPolicy(t, deniedLookups(), nil), true)
		target := enforcementmocks.NewMockTarget(t)
		target.EXPECT().Notify(mock.Anything, mock.Anything).Return(nil).Once()

		proceed := adapters.Message(context.Background(), enforcement.MessageEvent{AuthorID: 42, GuildID: "1"}, target)
		require.False(t, proceed)
		target.AssertNotCalled(t, "Ban", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("clear author proceeds", func(t *testing.T) {
		adapters := enforcement.NewAdapters(newPolicy(t, deniedLookups(), nil), true)
		target := enforcementmocks.NewMockTarget(t)

		require.True(t, adapters.Message(context.Background(), enforcement.MessageEvent{AuthorID: 7, GuildID: "1"}, target))
	})

	t.Run("automated author is not checked", func(t *testing.T) {
		lookups := deniedLookups()
		adapters := enforcement.NewAdapters(newPolicy(t, lookups, nil), true)
		target := enforcementmocks.NewMockTarget(t)

		require.True(t, adapters.Message(context.Background(), enforcement.MessageEvent{AuthorID: 42, AuthorBot: true}, target))
		require.Zero(t, lookups.callCount())
	})

	t.Run("global ban in direct message still notifies", func(t *testing.T) {
		adapters := enforcement.NewAdapters(newPolicy(t, deniedLookups(), nil), true)
		target := enforcementmocks.NewMockTarget(t)
		target.EXPECT().Ban(mock.Anything, uint64(43), "Global Ban: raid").Return(enforcement.ErrNoCommunity).Once()
		target.EXPECT().Notify(mock.Anything, mock.Anything).Return(nil).Once()

		require.False(t, adapters.Message(context.Background(), enforcement.MessageEvent{AuthorID: 43}, target))
	})
}

func TestMemberJoinAdapter(t *testing.T) {
	t.Run("global ban removes and notifies", func(t *testing.T) {
		adapters := enforcement.NewAdapters(newPolicy(t, deniedLookups(), nil), true)
		target := enforcementmocks.NewMockTarget(t)
		target.EXPECT().Ban(mock.Anything, uint64(43), "Global Ban: raid").Return(errors.New("forbidden")).Once()
		target.EXPECT().Notify(mock.Anything, mock.Anything).Return(nil).Once()

		outcome := adapters.MemberJoin(context.Background(), enforcement.JoinEvent{UserID: 43, GuildID: "1"}, target)
		require.True(t, outcome.Decision.Denied)
		require.Equal(t, metrics.ActionFailed, outcome.Ban)
		require.Equal(t, metrics.ActionSucceeded, outcome.Notice)
	})

	t.Run("notice disabled", func(t *testing.T) {
		adapters := enforcement.NewAdapters(newPolicy(t, deniedLookups(), nil), false)
		target := enforcementmocks.NewMockTarget(t)
		target.EXPECT().Ban(mock.Anything, uint64(43), mock.Anything).Return(nil).Once()

		outcome := adapters.MemberJoin(context.Background(), enforcement.JoinEvent{UserID: 43, GuildID: "1"}, target)
		require.Equal(t, metrics.ActionSucceeded, outcome.Ban)
		require.Equal(t, metrics.ActionSkipped, outcome.Notice)
	})

	t.Run("clear member", func(t *testing.T) {
		adapters := enforcement.NewAdapters(newPolicy(t, deniedLookups(), nil), true)
		target := enforcementmocks.NewMockTarget(t)

		outcome := adapters.MemberJoin(context.Background(), enforcement.JoinEvent{UserID: 7, GuildID: "1"}, target)
		require.False(t, outcome.Decision.Denied)
	})
}

func TestCommandAdapter(t *testing.T) {
	t.Run("appeal commands bypass the check", func(t *testing.T) {
		for _, name := range []string{enforcement.CommandAppeal, enforcement.CommandAppealStatus} {
			lookups := deniedLookups()
			adapters := enforcement.NewAdapters(newPolicy(t, lookups, nil), true)
			target := enforcementmocks.NewMockTarget(t)

			require.True(t, adapters.Command(context.Background(), enforcement.CommandEvent{UserID: 43, GuildID: "1", Name: name}, target))
			require.Zero(t, lookups.callCount(), name)
		}
	})

	t.Run("bypass matches by exact name", func(t *testing.T) {
		require.True(t, enforcement.Bypassed("appeal"))
		require.False(t, enforcement.Bypassed("Appeal"))
		require.False(t, enforcement.Bypassed("appeal-review"))
		require.False(t, enforcement.Bypassed("appeal-pending"))
	})

	t.Run("denied user cannot run other commands", func(t *testing.T) {
		adapters := enforcement.NewAdapters(newPolicy(t, deniedLookups(), nil), true)
		target := enforcementmocks.NewMockTarget(t)
		target.EXPECT().Notify(mock.Anything, mock.Anything).Return(nil).Once()

		require.False(t, adapters.Command(context.Background(), enforcement.CommandEvent{UserID: 42, GuildID: "1", Name: "ping"}, target))
	})

	t.Run("lookup failures fail open", func(t *testing.T) {
		adapters := enforcement.NewAdapters(newPolicy(t, &staticLookups{}, nil), true)
		target := enforcementmocks.NewMockTarget(t)

		for i := uint64(0); i < 5; i++ {
			require.True(t, adapters.Command(context.Background(), enforcement.CommandEvent{UserID: i, Name: "ping"}, target))
		}
	})

	t.Run("exempted user runs commands", func(t *testing.T) {
		policy := newPolicy(t, deniedLookups(), func(cfg *config.EnforcementConfig) {
			cfg.Exempt = `entry_point == "command"`
		})
		adapters := enforcement.NewAdapters(policy, true)
		target := enforcementmocks.NewMockTarget(t)

		require.True(t, adapters.Command(context.Background(), enforcement.CommandEvent{UserID: 42, Name: "ping"}, target))
	})
}
