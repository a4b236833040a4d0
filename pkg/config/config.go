// Package config loads palaver settings from flags, PALAVER_* environment
// variables, a .env file and ~/.palaver/config.yaml, in that order of
// precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/palaver/pkg/chatclient"
	"github.com/go-go-golems/palaver/pkg/logging"
	"github.com/go-go-golems/palaver/pkg/redisstream"
)

const (
	EnvPrefix = "PALAVER"
	AppDir    = ".palaver"

	TransportWebsocket = "ws"
	TransportRedis     = "redis"
)

type Settings struct {
	ServerURL         string        `mapstructure:"server-url" validate:"required,url"`
	SessionFile       string        `mapstructure:"session-file" validate:"required"`
	Journal           string        `mapstructure:"journal"`
	HTTPTimeout       time.Duration `mapstructure:"http-timeout" validate:"gt=0"`
	PollInterval      time.Duration `mapstructure:"poll-interval" validate:"gt=0"`
	DirectoryInterval time.Duration `mapstructure:"directory-interval" validate:"gt=0"`
	SelfLabel         string        `mapstructure:"self-label" validate:"required"`
	LiveTransport     string        `mapstructure:"live-transport" validate:"oneof=ws redis"`

	Redis   redisstream.Settings `mapstructure:",squash"`
	Logging logging.Settings     `mapstructure:",squash"`
}

func defaults() map[string]any {
	d := map[string]any{
		"server-url":         "http://localhost:8000",
		"session-file":       filepath.Join("~", AppDir, "session.yaml"),
		"journal":            filepath.Join("~", AppDir, "journal.db"),
		"http-timeout":       15 * time.Second,
		"poll-interval":      chatclient.DefaultPollInterval,
		"directory-interval": chatclient.DefaultDirectoryInterval,
		"self-label":         chatclient.DefaultSelfLabel,
		"live-transport":     TransportWebsocket,
	}
	for k, v := range redisstream.Defaults {
		d[k] = v
	}
	for k, v := range logging.Defaults {
		d[k] = v
	}
	return d
}

// AddFlags registers every setting as a flag on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Config file (default ~/.palaver/config.yaml)")
	fs.String("server-url", "http://localhost:8000", "Base URL of the chat service")
	fs.String("session-file", filepath.Join("~", AppDir, "session.yaml"), "Where the session token is stored")
	fs.String("journal", filepath.Join("~", AppDir, "journal.db"), "sqlite journal path, empty to disable")
	fs.Duration("http-timeout", 15*time.Second, "Timeout for each HTTP request")
	fs.Duration("poll-interval", chatclient.DefaultPollInterval, "History refresh interval while a conversation is open")
	fs.Duration("directory-interval", chatclient.DefaultDirectoryInterval, "User directory refresh interval")
	fs.String("self-label", chatclient.DefaultSelfLabel, "Directory label of your own conversation")
	fs.String("live-transport", TransportWebsocket, "Live channel transport (ws, redis)")
	fs.String("redis-addr", "localhost:6379", "Redis address host:port")
	fs.String("redis-group", "", "Redis consumer group, empty for fan-out")
	fs.String("redis-consumer", "palaver", "Redis consumer name")
	fs.String("redis-topic-prefix", redisstream.DefaultTopicPrefix, "Redis stream key prefix, followed by the partner id")
	fs.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	fs.String("log-format", "auto", "Log format (auto, text, json)")
	fs.String("log-file", "", "Log file, default stderr")
	fs.Bool("with-caller", false, "Log caller file and line")
}

// NewViper layers defaults, the config file, .env, the environment and flags.
// A missing default config file is not an error; a missing explicit one is.
func NewViper(flags *pflag.FlagSet, configFile string) (*viper.Viper, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := Dir(); err == nil {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	} else {
		log.Debug().Str("config_path", v.ConfigFileUsed()).Msg("using config file")
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, errors.Wrap(err, "bind flags")
		}
	}
	return v, nil
}

// LoadDotEnv loads the given .env files that exist. Variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "load %s", p)
		}
	}
	return nil
}

// Load decodes and validates settings, expanding ~ in paths.
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "decode settings")
	}

	for _, p := range []*string{&s.SessionFile, &s.Journal, &s.Logging.File} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return nil, errors.Wrapf(err, "expand %s", *p)
		}
		*p = expanded
	}
	s.ServerURL = strings.TrimRight(strings.TrimSpace(s.ServerURL), "/")

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(s); err != nil {
		return nil, errors.Wrap(err, "invalid settings")
	}
	return s, nil
}

// Dir is ~/.palaver.
func Dir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "find home directory")
	}
	return filepath.Join(home, AppDir), nil
}

// DefaultLogFile is where interactive sessions log when no file is configured.
func DefaultLogFile() string {
	dir, err := Dir()
	if err != nil {
		return filepath.Join(os.TempDir(), "palaver.log")
	}
	return filepath.Join(dir, "palaver.log")
}
