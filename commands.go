package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/die-net/proxyctl/internal/dialer"
	"github.com/die-net/proxyctl/internal/profile"
	"github.com/die-net/proxyctl/internal/proxy"
	"github.com/die-net/proxyctl/internal/sysproxy"
)

type command struct {
	name    string
	args    string
	summary string
	minArgs int
	maxArgs int
	flags   func(fs *pflag.FlagSet)
	run     func(ctx context.Context, e *env, args []string) error
}

// env is what a command sees once flags and config are resolved.
type env struct {
	*cli
	v   *viper.Viper
	fs  *pflag.FlagSet
	log zerolog.Logger
}

func (e *env) store() (*profile.Store, error) {
	return profile.Open(e.v.GetString("config-dir"))
}

var commands = []command{
	{
		name:    "add",
		args:    "<name>",
		summary: "Add or replace a proxy profile",
		minArgs: 1, maxArgs: 1,
		flags: func(fs *pflag.FlagSet) {
			fs.String("type", "", "Proxy type: http|socks4|socks5 (required)")
			fs.String("host", "", "Proxy server host (required)")
			fs.Int("port", 0, "Proxy server port (required)")
			fs.String("username", "", "Authentication username")
		},
		run: runAdd,
	},
	{
		name:    "list",
		summary: "List proxy profiles",
		run:     runList,
	},
	{
		name:    "delete",
		args:    "<name>",
		summary: "Delete a proxy profile",
		minArgs: 1, maxArgs: 1,
		flags: func(fs *pflag.FlagSet) {
			fs.BoolP("yes", "y", false, "Do not ask for confirmation")
		},
		run: runDelete,
	},
	{
		name:    "use",
		args:    "<name>",
		summary: "Use a profile as the system proxy or through a local forwarding proxy",
		minArgs: 1, maxArgs: 1,
		flags: func(fs *pflag.FlagSet) {
			fs.String("mode", "local", "local: run a forwarding proxy on 127.0.0.1, system: set the OS proxy")
			fs.Int("local-port", 8080, "Local port for --mode local (0 picks a free port)")
			fs.String("password", "", "Upstream password (or PROXYCTL_PASSWORD)")
		},
		run: runUse,
	},
	{
		name:    "check",
		args:    "<name>",
		summary: "Connect to a target through a profile",
		minArgs: 1, maxArgs: 1,
		flags: func(fs *pflag.FlagSet) {
			fs.String("target", "example.com:80", "host:port to reach through the proxy")
			fs.String("password", "", "Upstream password (or PROXYCTL_PASSWORD)")
		},
		run: runCheck,
	},
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func runAdd(_ context.Context, e *env, args []string) error {
	typ, _ := e.fs.GetString("type")
	host, _ := e.fs.GetString("host")
	port, _ := e.fs.GetInt("port")
	username, _ := e.fs.GetString("username")

	t, err := profile.ParseType(typ)
	if err != nil {
		return err
	}

	p := profile.Profile{
		Name: args[0],
		Type: t,
		Upstream: proxy.Upstream{
			Host:     host,
			Port:     port,
			Username: username,
		},
	}

	s, err := e.store()
	if err != nil {
		return err
	}
	if err := s.Add(p); err != nil {
		return err
	}

	success(e.stdout, "Added profile %q (%s %s)", p.Name, p.Type, p.Upstream)
	if p.Upstream.HasAuth() {
		notice(e.stdout, "Passwords are not saved; pass --password or set PROXYCTL_PASSWORD when using it")
	}
	return nil
}

func runList(_ context.Context, e *env, _ []string) error {
	s, err := e.store()
	if err != nil {
		return err
	}
	profiles, err := s.List()
	if err != nil {
		return err
	}

	if len(profiles) == 0 {
		notice(e.stdout, "No profiles saved.")
		return nil
	}
	fmt.Fprintln(e.stdout, renderProfiles(profiles))
	return nil
}

func runDelete(_ context.Context, e *env, args []string) error {
	name := args[0]

	s, err := e.store()
	if err != nil {
		return err
	}
	if _, err := s.Get(name); err != nil {
		return err
	}

	yes, _ := e.fs.GetBool("yes")
	if !yes {
		if !isTerminal(e.stdin) || !isTerminal(e.stdout) {
			return errors.New("refusing to delete without --yes when not running on a terminal")
		}
		prompt := promptui.Prompt{
			Label:     fmt.Sprintf("Delete profile %q", name),
			IsConfirm: true,
		}
		if _, err := prompt.Run(); err != nil {
			if errors.Is(err, promptui.ErrAbort) {
				notice(e.stdout, "Kept profile %q", name)
				return nil
			}
			return err
		}
	}

	if err := s.Delete(name); err != nil {
		return err
	}
	success(e.stdout, "Deleted profile %q", name)
	return nil
}

// activeProfile loads the named profile and fills in the password from
// --password or PROXYCTL_PASSWORD.
func activeProfile(e *env, name string) (profile.Profile, error) {
	s, err := e.store()
	if err != nil {
		return profile.Profile{}, err
	}
	p, err := s.Get(name)
	if err != nil {
		return profile.Profile{}, err
	}
	p.Upstream.Password = e.v.GetString("password")
	return p, nil
}

func runUse(ctx context.Context, e *env, args []string) error {
	mode, _ := e.fs.GetString("mode")
	switch mode {
	case "local", "system":
	default:
		return fmt.Errorf("invalid --mode %q (expected local or system)", mode)
	}

	p, err := activeProfile(e, args[0])
	if err != nil {
		return err
	}

	if mode == "system" {
		err := sysproxy.Set(ctx, sysproxy.Settings{
			Host:     p.Upstream.Host,
			Port:     p.Upstream.Port,
			Username: p.Upstream.Username,
			Password: p.Upstream.Password,
		})
		if err != nil {
			return err
		}
		success(e.stdout, "System proxy set to %s", p.Upstream)
		return nil
	}

	cfg, err := proxyConfig(e.v, e.log)
	if err != nil {
		return err
	}
	return serveLocal(ctx, e, cfg, p, e.v.GetInt("local-port"))
}

// serveLocal runs a forwarding listener for p until ctx is done or the
// listener fails.
func serveLocal(ctx context.Context, e *env, cfg proxy.Config, p profile.Profile, port int) error {
	reg := proxy.NewRegistry(ctx, cfg)

	var (
		l   *proxy.Listener
		err error
	)
	if p.Type.IsSOCKS() {
		l, err = reg.StartRaw(port, p.Upstream)
	} else {
		l, err = reg.StartHTTP(port, p.Upstream)
	}
	if err != nil {
		_ = reg.Close()
		return err
	}

	success(e.stdout, "Forwarding %s on %s to %s %s (Ctrl-C to stop)", l.Protocol, l.Addr(), p.Type, p.Upstream)

	select {
	case <-ctx.Done():
		err = nil
	case <-l.Done():
		err = l.Err()
	}

	e.log.Info().Msg("shutting down")
	return errors.Join(err, reg.Close())
}

func runCheck(ctx context.Context, e *env, args []string) error {
	target, _ := e.fs.GetString("target")
	if _, _, err := net.SplitHostPort(target); err != nil {
		return fmt.Errorf("invalid --target: %w", err)
	}

	p, err := activeProfile(e, args[0])
	if err != nil {
		return err
	}
	cfg, err := proxyConfig(e.v, e.log)
	if err != nil {
		return err
	}

	d, err := dialer.New(dialerConfig(cfg), string(p.Type), p.Upstream.Addr(), p.Upstream.Username, p.Upstream.Password)
	if err != nil {
		return err
	}

	start := time.Now()
	c, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return fmt.Errorf("check %s via %s: %w", target, p.Name, err)
	}
	_ = c.Close()

	success(e.stdout, "Reached %s via %q in %s", target, p.Name, time.Since(start).Round(time.Millisecond))
	return nil
}
