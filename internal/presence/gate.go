package presence

import (
	"sync"

	"github.com/roach88/hirechat/internal/chat"
)

// Signal is the typing notification a composer change calls for.
type Signal int

const (
	None Signal = iota
	Start
	Stop
)

func (s Signal) String() string {
	switch s {
	case Start:
		return "start"
	case Stop:
		return "stop"
	default:
		return "none"
	}
}

// TypingGate turns composer contents into start/stop signals. It emits only
// on empty↔non-empty transitions, never per keystroke.
type TypingGate struct {
	mu     sync.Mutex
	typing map[int64]bool
}

func NewTypingGate() *TypingGate {
	return &TypingGate{typing: make(map[int64]bool)}
}

// Update records the composer content of a conversation.
func (g *TypingGate) Update(conversationID int64, content string) Signal {
	g.mu.Lock()
	defer g.mu.Unlock()

	composing := !chat.IsBlank(content)
	was := g.typing[conversationID]
	switch {
	case composing && !was:
		g.typing[conversationID] = true
		return Start
	case !composing && was:
		delete(g.typing, conversationID)
		return Stop
	default:
		return None
	}
}

// Reset clears the composer state, as after a send. It returns Stop when a
// start had been signalled.
func (g *TypingGate) Reset(conversationID int64) Signal {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.typing[conversationID] {
		return None
	}
	delete(g.typing, conversationID)
	return Stop
}
