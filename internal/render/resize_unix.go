//go:build !windows

package render

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/websoft9/webterm/internal/geometry"
)

// WatchResize reports the terminal size on every SIGWINCH until ctx ends.
func (c *Console) WatchResize(ctx context.Context) <-chan geometry.Viewport {
	out := make(chan geometry.Viewport, 1)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	go func() {
		defer signal.Stop(sigCh)
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				select {
				case out <- c.Viewport():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
