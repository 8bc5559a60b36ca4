package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/die-net/proxyctl/internal/dialer"
	"github.com/die-net/proxyctl/internal/proxy"
)

// configKeys are the settings that may come from flags, PROXYCTL_*
// environment variables, or <config-dir>/config.yaml.
var configKeys = []string{
	"config-dir",
	"local-port",
	"dial-timeout",
	"negotiation-timeout",
	"tcp-keepalive",
	"log-level",
	"log-format",
	"password",
}

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.String("config-dir", defaultConfigDir(), "Directory holding profiles.ini and config.yaml")
	flags.Duration("dial-timeout", 10*time.Second, "Timeout for DNS lookup and TCP connect to the upstream")
	flags.Duration("negotiation-timeout", 10*time.Second, "Timeout for reading the upstream's response head")
	flags.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	flags.String("log-level", "info", "Log level: debug|info|warn|error")
	flags.String("log-format", "console", "Log format: console|json")
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".proxy-cli"
	}
	return filepath.Join(home, ".proxy-cli")
}

// loadConfig layers flags over PROXYCTL_* environment variables over the
// optional config.yaml over defaults.
func loadConfig(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("proxyctl")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("config-dir", defaultConfigDir())
	v.SetDefault("local-port", 8080)
	v.SetDefault("dial-timeout", 10*time.Second)
	v.SetDefault("negotiation-timeout", 10*time.Second)
	v.SetDefault("tcp-keepalive", "45:45:3")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "console")

	for _, key := range configKeys {
		if f := flags.Lookup(key); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind --%s: %w", key, err)
			}
		}
	}

	v.SetConfigFile(filepath.Join(v.GetString("config-dir"), "config.yaml"))
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return v, nil
}

func proxyConfig(v *viper.Viper, log zerolog.Logger) (proxy.Config, error) {
	ka, err := parseTCPKeepAlive(v.GetString("tcp-keepalive"))
	if err != nil {
		return proxy.Config{}, fmt.Errorf("invalid tcp-keepalive: %w", err)
	}

	return proxy.Config{
		DialTimeout:        v.GetDuration("dial-timeout"),
		NegotiationTimeout: v.GetDuration("negotiation-timeout"),
		KeepAlive:          ka,
		Logger:             log,
	}, nil
}

func dialerConfig(cfg proxy.Config) dialer.Config {
	return dialer.Config{
		DialTimeout:        cfg.DialTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		KeepAlive:          cfg.KeepAlive,
	}
}

func newLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log-level: %w", err)
	}

	var out io.Writer
	switch strings.ToLower(format) {
	case "json":
		out = w
	case "console", "":
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: "15:04:05",
			NoColor:    !isTerminal(w),
		}
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid log-format %q", format)
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
