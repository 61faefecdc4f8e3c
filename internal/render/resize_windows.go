package render

import (
	"context"

	"github.com/websoft9/webterm/internal/geometry"
)

// WatchResize never fires on Windows, which has no SIGWINCH; the grid sent
// on connect stays in effect.
func (c *Console) WatchResize(ctx context.Context) <-chan geometry.Viewport {
	out := make(chan geometry.Viewport)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out
}
