package config

const redacted = "***"

// RedactedConfig returns a copy of cfg safe to log: every credential field
// is replaced with "***" and shared slices are cloned so the copy cannot
// leak writes back into the original.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, secret := range []*string{
		&out.Wallet.PrivateKey,
		&out.Wallet.KeyPassword,
		&out.Kalshi.ApiKey,
		&out.Postgres.DSN,
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Server.APIKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
	} {
		if *secret != "" {
			*secret = redacted
		}
	}

	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}

	return out
}
