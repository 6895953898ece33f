package denylist

import "strings"

// Mode is the enforcement mode attached to a denylist entry.
type Mode string

const (
	// ModeStandard denies service without touching membership.
	ModeStandard Mode = "standard"
	// ModeGlobalBan denies service and removes the user from the community.
	ModeGlobalBan Mode = "global_ban"
	// ModeUnspecified covers modes the remote service reports that this
	// build does not recognise. It is treated as a notify-only denial.
	ModeUnspecified Mode = "unspecified"
)

// ParseMode maps a remote mode string onto the closed set of modes.
func ParseMode(raw string) Mode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeStandard):
		return ModeStandard
	case string(ModeGlobalBan):
		return ModeGlobalBan
	default:
		return ModeUnspecified
	}
}

// Entry is a denylist hit for a single user. A nil *Entry means the user is
// not denylisted.
type Entry struct {
	Mode   Mode
	Reason string
}
