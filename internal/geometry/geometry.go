// Package geometry tracks the character grid of a terminal view and decides
// when the remote side has to be told about a new size.
package geometry

import "fmt"

// maxDimension clamps grids to what a resize frame can carry.
const maxDimension = 0xFFFF

// Viewport is the size of the host area the terminal is drawn into, in the
// units the rendering engine understands (pixels for a graphical surface,
// character cells for a host terminal).
type Viewport struct {
	Width  int
	Height int
}

// Grid is a terminal size in character cells.
type Grid struct {
	Cols uint16
	Rows uint16
}

func (g Grid) String() string { return fmt.Sprintf("%dx%d", g.Cols, g.Rows) }

// Valid reports whether both dimensions are non-zero.
func (g Grid) Valid() bool { return g.Cols > 0 && g.Rows > 0 }

// GridOf converts int dimensions into a Grid, clamping to the frame limit.
// Non-positive dimensions yield a zero (invalid) grid.
func GridOf(cols, rows int) Grid {
	if cols <= 0 || rows <= 0 {
		return Grid{}
	}
	if cols > maxDimension {
		cols = maxDimension
	}
	if rows > maxDimension {
		rows = maxDimension
	}
	return Grid{Cols: uint16(cols), Rows: uint16(rows)}
}

// GridComputer is the rendering engine capability that maps a viewport to
// the grid it can display.
type GridComputer interface {
	ComputeGrid(vp Viewport) Grid
}

// Coordinator remembers the last grid sent to the peer and suppresses
// resize intents that would not change it.
//
// It is not safe for concurrent use; the session event loop owns it.
type Coordinator struct {
	engine   GridComputer
	viewport Viewport
	last     Grid
}

// NewCoordinator returns a Coordinator computing grids with engine, starting
// from the initial viewport vp.
func NewCoordinator(engine GridComputer, vp Viewport) *Coordinator {
	return &Coordinator{engine: engine, viewport: vp}
}

// Observe records a new host viewport and recomputes the grid.
func (c *Coordinator) Observe(vp Viewport) (Grid, bool) {
	c.viewport = vp
	return c.Recompute()
}

// Recompute computes the grid for the current viewport. It returns the grid
// and true when it is valid and differs from the last committed grid.
func (c *Coordinator) Recompute() (Grid, bool) {
	g := c.engine.ComputeGrid(c.viewport)
	if !g.Valid() || g == c.last {
		return g, false
	}
	return g, true
}

// Commit records g as delivered to the peer.
func (c *Coordinator) Commit(g Grid) { c.last = g }

// Last returns the last committed grid.
func (c *Coordinator) Last() Grid { return c.last }

// Viewport returns the most recently observed viewport.
func (c *Coordinator) Viewport() Viewport { return c.viewport }

// Reset forgets the committed grid. A fresh channel has a peer that knows
// nothing about the current size, so the next pass always emits.
func (c *Coordinator) Reset() { c.last = Grid{} }
