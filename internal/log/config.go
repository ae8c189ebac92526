package log

// Config controls the logrus-backed appender chain. It is populated from
// the `log:` section of internal/config.GlobalConfig.
type Config struct {
	Level   string       `mapstructure:"level"`
	Pattern string       `mapstructure:"pattern"`
	Time    string       `mapstructure:"time"`
	File    FileAppender `mapstructure:"file"`
}

// FileAppender configures rotation for the on-disk log, handled by
// gopkg.in/natefinch/lumberjack.v2.
type FileAppender struct {
	Enabled    bool   `mapstructure:"enabled"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig mirrors the defaults internal/config.setDefaults applies.
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Pattern: "%time [%level] %field %msg (%caller)",
		Time:    "2006-01-02T15:04:05.000Z07:00",
	}
}
