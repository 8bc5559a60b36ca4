// Package sysproxy points the operating system's HTTP proxy setting at a
// host and port.
package sysproxy

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrUnsupported is returned on platforms with no known proxy setting.
var ErrUnsupported = errors.New("system proxy not supported on this platform")

// Settings is the proxy the system should use.
type Settings struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (s Settings) Validate() error {
	if s.Host == "" {
		return errors.New("missing host")
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	return nil
}

// Command is one external program invocation.
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Commands returns the programs that apply s on goos. Windows is handled
// through the registry and has no commands.
func Commands(goos string, s Settings) ([]Command, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	port := strconv.Itoa(s.Port)

	switch goos {
	case "darwin":
		args := []string{"-setwebproxy", "Wi-Fi", s.Host, port}
		if s.Username != "" {
			args = append(args, "on", s.Username, s.Password)
		}
		return []Command{{Name: "networksetup", Args: args}}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return []Command{
			{Name: "gsettings", Args: []string{"set", "org.gnome.system.proxy.http", "host", s.Host}},
			{Name: "gsettings", Args: []string{"set", "org.gnome.system.proxy.http", "port", port}},
			{Name: "gsettings", Args: []string{"set", "org.gnome.system.proxy", "mode", "manual"}},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, goos)
	}
}

// Runner executes one command.
type Runner func(ctx context.Context, cmd Command) error

// ExecRunner runs cmd with os/exec and folds its output into the error.
func ExecRunner(ctx context.Context, cmd Command) error {
	out, err := exec.CommandContext(ctx, cmd.Name, cmd.Args...).CombinedOutput() //nolint:gosec // Fixed program names.
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", cmd.Name, err, msg)
		}
		return fmt.Errorf("%s: %w", cmd.Name, err)
	}
	return nil
}

// Run applies every command for goos in order, stopping at the first failure.
func Run(ctx context.Context, goos string, s Settings, run Runner) error {
	cmds, err := Commands(goos, s)
	if err != nil {
		return err
	}
	for _, c := range cmds {
		if err := run(ctx, c); err != nil {
			return fmt.Errorf("set system proxy: %w", err)
		}
	}
	return nil
}
