package config

import "strings"

// orDefault returns def when v is the zero value.
func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func normalizeDatabaseConfig(cfg DatabaseRuntimeConfig) DatabaseRuntimeConfig {
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	if cfg.Driver == "sqlite3" {
		cfg.Driver = DriverSQLite
	}
	cfg.Driver = orDefault(cfg.Driver, defaultDBDriver)
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	cfg.Host = orDefault(strings.TrimSpace(cfg.Host), defaultDBHost)
	cfg.Port = orDefault(cfg.Port, defaultDBPort)
	cfg.User = orDefault(strings.TrimSpace(cfg.User), defaultDBUser)
	cfg.Password = orDefault(cfg.Password, defaultDBPassword)
	cfg.Name = orDefault(strings.TrimSpace(cfg.Name), defaultDBName)
	cfg.Charset = orDefault(strings.TrimSpace(cfg.Charset), defaultDBCharset)
	cfg.Loc = orDefault(strings.TrimSpace(cfg.Loc), defaultDBLoc)
	cfg.Path = orDefault(strings.TrimSpace(cfg.Path), defaultSQLitePath)
	cfg.Params = trimParams(cfg.Params)
	return cfg
}

func normalizeRedisConfig(cfg RedisRuntimeConfig) RedisRuntimeConfig {
	cfg.URL = normalizeRedisRawURL(cfg.URL)
	cfg.Host = orDefault(strings.TrimSpace(cfg.Host), defaultRedisHost)
	cfg.Port = orDefault(cfg.Port, defaultRedisPort)
	cfg.Username = strings.TrimSpace(cfg.Username)
	return cfg
}

// normalizeRedisRawURL adds the redis:// scheme to bare host:port values.
func normalizeRedisRawURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" || strings.HasPrefix(u, "redis://") || strings.HasPrefix(u, "rediss://") {
		return u
	}
	return "redis://" + u
}

// NormalizeProviders trims provider fields and canonicalises their types.
// A provider without a display name is named after its id.
func NormalizeProviders(input []AIProvider) []AIProvider {
	out := make([]AIProvider, len(input))
	for i, p := range input {
		p.ID = strings.TrimSpace(p.ID)
		p.Type = NormalizeProviderType(p.Type)
		p.APIKey = strings.TrimSpace(p.APIKey)
		p.Endpoint = strings.TrimSpace(p.Endpoint)
		p.DefaultModel = strings.TrimSpace(p.DefaultModel)
		p.Name = orDefault(strings.TrimSpace(p.Name), p.ID)
		out[i] = p
	}
	return out
}

// trimParams drops params whose key or value is blank.
func trimParams(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if k, v = strings.TrimSpace(k), strings.TrimSpace(v); k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

func normalizeOrigins(origins []string) []string {
	out := origins[:0:0]
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func normalizeEnv(env string) string {
	return orDefault(strings.ToLower(strings.TrimSpace(env)), defaultEnv)
}
