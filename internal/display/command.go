// Package display decides what the panel shows and when it is redrawn. It
// emits Commands to a Renderer; drawing itself lives in the panel package.
package display

import (
	"time"

	"github.com/skobkin/hostmon-panel/internal/metrics"
	"github.com/skobkin/hostmon-panel/internal/settings"
)

// Kind selects the screen layout.
type Kind int

const (
	KindNone Kind = iota
	KindDevice
	KindOffline
	KindWaiting
	KindNotice
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindOffline:
		return "offline"
	case KindWaiting:
		return "waiting"
	case KindNotice:
		return "notice"
	default:
		return "none"
	}
}

// Command is one render instruction. Full means header and every row;
// otherwise only rows set in Dirty and, if Footer is set, the footer are
// repainted.
type Command struct {
	Kind   Kind
	Full   bool
	Dirty  metrics.DirtyMask
	Footer bool

	Host   string
	Alias  string
	Index  int
	Count  int
	Online bool
	Frame  metrics.Frame
	// Age is the time since the source last published.
	Age        time.Duration
	Thresholds settings.Thresholds
	LinkUp     bool

	// Title and Lines are used by KindNotice screens.
	Title string
	Lines []string
}

// Renderer draws commands. Draw is called from the loop goroutine and must
// not block.
type Renderer interface {
	Draw(cmd Command)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Command)

func (f RendererFunc) Draw(cmd Command) { f(cmd) }

// Notice builds a full-screen text command for boot and setup screens.
func Notice(title string, lines ...string) Command {
	return Command{Kind: KindNotice, Full: true, Title: title, Lines: lines}
}
