package config

// redacted replaces a secret value for log output.
const redacted = "***"

// RedactedConfig returns a copy of the configuration with secret fields
// masked, safe to log at startup.
func (c *Config) RedactedConfig() Config {
	out := *c

	if out.Operator.PrivateKey != "" {
		out.Operator.PrivateKey = redacted
	}
	if out.Operator.KeyPassword != "" {
		out.Operator.KeyPassword = redacted
	}
	if out.Postgres.Password != "" {
		out.Postgres.Password = redacted
	}
	if out.Postgres.DSN != "" {
		out.Postgres.DSN = redacted
	}
	if out.Redis.Password != "" {
		out.Redis.Password = redacted
	}
	if out.S3.SecretKey != "" {
		out.S3.SecretKey = redacted
	}
	if len(out.Server.APIKeys) > 0 {
		keys := make([]string, len(out.Server.APIKeys))
		for i := range keys {
			keys[i] = redacted
		}
		out.Server.APIKeys = keys
	}
	return out
}
