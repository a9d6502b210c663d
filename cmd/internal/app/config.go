package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// Remote feed connection. Defaults point at the shared dev backend;
	// production overrides them at start time. There is no runtime
	// surface for changing them.
	FeedURL     string
	FeedToken   string
	FeedTimeout time.Duration

	// Author stamped on outgoing messages.
	Author string

	// Sync tuning.
	PageSize     int
	PollInterval time.Duration

	// Snapshot backend: DatabaseURL selects Postgres; otherwise a local
	// pebble database at SnapshotPath ("memory" disables durability).
	SnapshotPath string
	DatabaseURL  string
	DBMaxConns   int32
	DBMinConns   int32
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("DOODLE_HTTP_ADDR", "127.0.0.1:8090"),
		LogLevel:  EnvString("DOODLE_LOG_LEVEL", "info"),
		LogFormat: EnvString("DOODLE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("DOODLE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("DOODLE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("DOODLE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("DOODLE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		FeedURL:     EnvString("DOODLE_FEED_URL", "http://localhost:3000/api/v1"),
		FeedToken:   EnvString("DOODLE_FEED_TOKEN", "super-secret-doodle-token"),
		FeedTimeout: EnvDuration("DOODLE_FEED_TIMEOUT", 10*time.Second),

		Author: EnvString("DOODLE_AUTHOR", "You"),

		PageSize:     EnvInt("DOODLE_PAGE_SIZE", 40),
		PollInterval: EnvDuration("DOODLE_POLL_INTERVAL", 5*time.Second),

		SnapshotPath: EnvString("DOODLE_SNAPSHOT_PATH", "./doodle-data"),
		DatabaseURL:  EnvString("DOODLE_DATABASE_URL", ""),
		DBMaxConns:   EnvInt32("DOODLE_DB_MAX_CONNS", 4),
		DBMinConns:   EnvInt32("DOODLE_DB_MIN_CONNS", 0),
	}
}
