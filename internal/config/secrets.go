package config

// redacted replaces secret values in logged configuration.
const redacted = "***"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder. Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	redact(&out.Database.DSN)
	redact(&out.Database.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Exchange.APIKey)
	redact(&out.Exchange.APISecret)
	redact(&out.Exchange.KeyPassword)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the live config through the copy,
	// and mask credentials carried in them.
	out.Trading.Pairs = append([]string(nil), cfg.Trading.Pairs...)
	out.Feed.Timeframes = append([]string(nil), cfg.Feed.Timeframes...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.APIKeys = make([]string, len(cfg.Server.APIKeys))
	for i := range cfg.Server.APIKeys {
		out.Server.APIKeys[i] = redacted
	}

	return out
}

// redact overwrites *s with the placeholder if it holds a value.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
