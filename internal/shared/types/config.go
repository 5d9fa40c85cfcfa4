package types

// UpstreamConf describes the relay feed source.
type UpstreamConf struct {
	URL            string `ini:"url"`
	TimeoutSeconds int    `ini:"timeout_seconds"`
}

// CacheConf controls the registry cache freshness window.
type CacheConf struct {
	TTLMinutes int `ini:"ttl_minutes"`
}

// WebConf contains the HTTP API configuration.
type WebConf struct {
	WebPort     int    `ini:"web_port"`
	WebUser     string `ini:"web_user"`
	WebPassword string `ini:"web_password"`
}

// FavoritesConf points at the plaintext favorites data file.
type FavoritesConf struct {
	Path string `ini:"path"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// Config is the unified configuration structure for the directory service.
type Config struct {
	UpstreamConf  UpstreamConf  `ini:"upstream"`
	CacheConf     CacheConf     `ini:"cache"`
	WebConf       WebConf       `ini:"web"`
	FavoritesConf FavoritesConf `ini:"favorites"`
	LogConf       LogConf       `ini:"log"`
}

// ApplyDefaults fills in zero-valued fields that have documented defaults.
func (c *Config) ApplyDefaults() {
	if c.UpstreamConf.TimeoutSeconds <= 0 {
		c.UpstreamConf.TimeoutSeconds = 30
	}
	if c.CacheConf.TTLMinutes <= 0 {
		c.CacheConf.TTLMinutes = 60
	}
	if c.FavoritesConf.Path == "" {
		c.FavoritesConf.Path = "favorites.txt"
	}
	if c.LogConf.Level == "" {
		c.LogConf.Level = "info"
	}
}
