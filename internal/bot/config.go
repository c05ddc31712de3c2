package bot

// BotConfig represents the configuration for the bot
type BotConfig struct {
	// Number of recently shown items excluded from fresh selection
	RecentExclusion int
	// Users allowed to import summaries and reconcile
	AdminUserIDs []int64
	// Reconcile applies the rebuilt statistics instead of only reporting
	ApplyDrift bool
}

// DefaultConfig returns the default bot configuration
func DefaultConfig() *BotConfig {
	return &BotConfig{
		RecentExclusion: 5,
	}
}
