package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"emojivote/internal/bootstrap/logging"
	"emojivote/internal/errs"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Votes     VotesConfig     `mapstructure:"votes"`
	Slack     SlackConfig     `mapstructure:"slack"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Events    EventsConfig    `mapstructure:"events"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

type AppConfig struct {
	Name      string `mapstructure:"name"`
	Env       string `mapstructure:"env"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// VotesConfig holds the voting rules. Durations are in business days.
type VotesConfig struct {
	CommentPeriod     int      `mapstructure:"comment_period"`
	MaxDuration       int      `mapstructure:"max_duration"`
	WinBy             int      `mapstructure:"win_by"`
	DownVoteThreshold int      `mapstructure:"down_vote_threshold"`
	CalendarHolidays  []string `mapstructure:"calendar_holidays"`
	CalendarFile      string   `mapstructure:"calendar_file"`
	TallySchedule     string   `mapstructure:"tally_schedule"`
}

type SlackConfig struct {
	APIURL         string   `mapstructure:"api_url"`
	BotToken       string   `mapstructure:"bot_token"`
	AdminToken     string   `mapstructure:"admin_token"`
	SigningSecret  string   `mapstructure:"signing_secret"`
	EmojiChannel   string   `mapstructure:"emoji_channel"`
	AdminChannel   string   `mapstructure:"admin_channel"`
	AdminUsers     []string `mapstructure:"admin_users"`
	ImageURLPrefix string   `mapstructure:"image_url_prefix"`
	// ProposalChannels accept image posts as proposals in addition to DMs.
	ProposalChannels []string        `mapstructure:"proposal_channels"`
	Reactions        ReactionsConfig `mapstructure:"reactions"`
}

type ReactionsConfig struct {
	Up       string `mapstructure:"up"`
	Down     string `mapstructure:"down"`
	Force    string `mapstructure:"force"`
	Block    string `mapstructure:"block"`
	Withdraw string `mapstructure:"withdraw"`
	Report   string `mapstructure:"report"`
}

type DirectoryConfig struct {
	Driver  string        `mapstructure:"driver"`
	Timeout time.Duration `mapstructure:"timeout"`
	Rate    float64       `mapstructure:"rate"`
	Burst   int           `mapstructure:"burst"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
	Interval    time.Duration `mapstructure:"interval"`
}

type EventsConfig struct {
	Workers     int    `mapstructure:"workers"`
	QueueSize   int    `mapstructure:"queue_size"`
	HTTPAddr    string `mapstructure:"http_addr"`
	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`
	NATSQueue   string `mapstructure:"nats_queue"`
}

type CacheConfig struct {
	Driver    string `mapstructure:"driver"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("directory_driver", cfg.Directory.Driver),
		slog.String("cache_driver", cfg.Cache.Driver),
	)

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	if c.Votes.CommentPeriod < 0 || c.Votes.MaxDuration < 0 || c.Votes.WinBy < 0 {
		return errors.New("votes.comment_period, votes.max_duration and votes.win_by must not be negative")
	}
	if c.Votes.MaxDuration < c.Votes.CommentPeriod {
		return fmt.Errorf("votes.max_duration (%d) must not be shorter than votes.comment_period (%d)", c.Votes.MaxDuration, c.Votes.CommentPeriod)
	}
	if c.Votes.DownVoteThreshold <= 0 {
		return errors.New("votes.down_vote_threshold must be positive")
	}

	switch strings.ToLower(strings.TrimSpace(c.Directory.Driver)) {
	case "memory":
	case "slack":
		if strings.TrimSpace(c.Slack.AdminToken) == "" {
			return errors.New("slack.admin_token is required when directory.driver is slack")
		}
	default:
		return fmt.Errorf("unsupported directory driver %q", c.Directory.Driver)
	}
	if c.Directory.Timeout <= 0 {
		return errors.New("directory.timeout must be positive")
	}

	switch strings.ToLower(strings.TrimSpace(c.Cache.Driver)) {
	case "sqlite":
	case "redis":
		if strings.TrimSpace(c.Cache.RedisAddr) == "" {
			return errors.New("cache.redis_addr is required when cache.driver is redis")
		}
	default:
		return fmt.Errorf("unsupported cache driver %q", c.Cache.Driver)
	}

	if c.Events.Workers <= 0 {
		return errors.New("events.workers must be positive")
	}
	return nil
}

// IsAdmin reports whether user is listed in slack.admin_users.
func (c SlackConfig) IsAdmin(user string) bool {
	for _, admin := range c.AdminUsers {
		if strings.TrimSpace(admin) == user && user != "" {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "emojivote")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "text")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".emojivote/state/emojivote.sqlite")

	v.SetDefault("votes.comment_period", 1)
	v.SetDefault("votes.max_duration", 30)
	v.SetDefault("votes.win_by", 5)
	v.SetDefault("votes.down_vote_threshold", 5)
	v.SetDefault("votes.calendar_holidays", []string{})
	v.SetDefault("votes.calendar_file", "")
	v.SetDefault("votes.tally_schedule", "@every 30m")

	v.SetDefault("slack.api_url", "https://slack.com/api/")
	v.SetDefault("slack.bot_token", "")
	v.SetDefault("slack.admin_token", "")
	v.SetDefault("slack.signing_secret", "")
	v.SetDefault("slack.emoji_channel", "")
	v.SetDefault("slack.admin_channel", "")
	v.SetDefault("slack.admin_users", []string{})
	v.SetDefault("slack.image_url_prefix", "http://localhost:8080/images/")
	v.SetDefault("slack.proposal_channels", []string{})
	v.SetDefault("slack.reactions.up", "white_check_mark")
	v.SetDefault("slack.reactions.down", "x")
	v.SetDefault("slack.reactions.force", "large_green_circle")
	v.SetDefault("slack.reactions.block", "no_entry_sign")
	v.SetDefault("slack.reactions.withdraw", "rewind")
	v.SetDefault("slack.reactions.report", "triangular_flag_on_post")

	v.SetDefault("directory.driver", "memory")
	v.SetDefault("directory.timeout", 30*time.Second)
	v.SetDefault("directory.rate", 0.5)
	v.SetDefault("directory.burst", 1)
	v.SetDefault("directory.breaker.max_failures", 5)
	v.SetDefault("directory.breaker.open_timeout", time.Minute)
	v.SetDefault("directory.breaker.interval", 10*time.Minute)

	v.SetDefault("events.workers", 4)
	v.SetDefault("events.queue_size", 256)
	v.SetDefault("events.http_addr", ":8080")
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.nats_subject", "emojivote.events")
	v.SetDefault("events.nats_queue", "emojivote")

	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.key_prefix", "emojivote:")
}
