//go:build windows

package sysproxy

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/windows/registry"
)

const internetSettings = `Software\Microsoft\Windows\CurrentVersion\Internet Settings`

// Set writes the per-user WinINet proxy. Credentials cannot be stored there
// and are ignored.
func Set(_ context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	key, _, err := registry.CreateKey(registry.CURRENT_USER, internetSettings, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("open internet settings: %w", err)
	}
	defer key.Close()

	if err := key.SetStringValue("ProxyServer", net.JoinHostPort(s.Host, strconv.Itoa(s.Port))); err != nil {
		return fmt.Errorf("set ProxyServer: %w", err)
	}
	if err := key.SetDWordValue("ProxyEnable", 1); err != nil {
		return fmt.Errorf("set ProxyEnable: %w", err)
	}
	return nil
}
