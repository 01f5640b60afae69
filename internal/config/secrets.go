package config

import "slices"

const redacted = "***"

// RedactedConfig returns a copy of cfg with secrets masked, for printing and
// logging.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices are cloned so the copy cannot alias the original.
	out.Chain.SourceWallets = slices.Clone(cfg.Chain.SourceWallets)
	out.Exchange.Markets = slices.Clone(cfg.Exchange.Markets)
	out.Copy.MarketWhitelist = slices.Clone(cfg.Copy.MarketWhitelist)
	out.Copy.MarketBlacklist = slices.Clone(cfg.Copy.MarketBlacklist)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
