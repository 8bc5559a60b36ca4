//go:build !windows

package sysproxy

import (
	"context"
	"runtime"
)

// Set configures the system proxy for the running platform.
func Set(ctx context.Context, s Settings) error {
	return Run(ctx, runtime.GOOS, s, ExecRunner)
}
