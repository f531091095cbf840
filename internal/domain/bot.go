package domain

// Mode describes how a bot is currently operating.
type Mode string

const (
	ModeLive     Mode = "live"
	ModePaper    Mode = "paper"
	ModeDisabled Mode = "disabled"
)

// BotIdentity is a registered bot: a stable strategy name plus its mode tag.
// Immutable once registered.
type BotIdentity struct {
	Name string
	Mode Mode
}

// Disabled reports whether the bot is excluded from analysis and alerting.
func (b BotIdentity) Disabled() bool {
	return b.Mode == ModeDisabled
}
