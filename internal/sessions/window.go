// Package sessions holds per-conversation chat memory.
package sessions

import (
	"sync"

	"github.com/haasonsaas/ragline/pkg/models"
)

// DefaultWindowSize is the number of non-system messages a window keeps.
const DefaultWindowSize = 10

// Window is a bounded chat memory. The leading system message does not
// count toward the bound and is never evicted.
//
// Thread Safety:
// Window is safe for concurrent use.
type Window struct {
	mu       sync.Mutex
	max      int
	messages []models.ChatMessage
}

// NewWindow creates a window keeping at most max non-system messages.
// A non-positive max selects DefaultWindowSize.
func NewWindow(max int) *Window {
	if max <= 0 {
		max = DefaultWindowSize
	}
	return &Window{max: max}
}

// Max returns the window bound.
func (w *Window) Max() int {
	return w.max
}

// Append adds messages in order, evicting the oldest as needed. A system
// message replaces the head system message instead of being appended.
func (w *Window) Append(msgs ...models.ChatMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, msg := range msgs {
		if msg.Role == models.RoleSystem {
			w.setSystemLocked(msg.Content)
			continue
		}
		w.messages = append(w.messages, cloneMessage(msg))
	}
	w.evictLocked()
}

// SetSystem replaces or inserts the head system message.
func (w *Window) SetSystem(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setSystemLocked(text)
}

func (w *Window) setSystemLocked(text string) {
	if w.hasSystemLocked() {
		w.messages[0].Content = text
		return
	}
	w.messages = append([]models.ChatMessage{models.SystemMessage(text)}, w.messages...)
}

func (w *Window) hasSystemLocked() bool {
	return len(w.messages) > 0 && w.messages[0].Role == models.RoleSystem
}

// evictLocked drops messages from the front until the bound holds. A tool
// call leaves together with its results, and results left without a
// preceding call are dropped too.
func (w *Window) evictLocked() {
	head := 0
	if w.hasSystemLocked() {
		head = 1
	}

	for len(w.messages)-head > w.max {
		end := head + 1
		if w.messages[head].Role == models.RoleToolCall {
			for end < len(w.messages) && w.messages[end].Role == models.RoleToolResult {
				end++
			}
		}
		w.messages = append(w.messages[:head], w.messages[end:]...)
	}

	end := head
	for end < len(w.messages) && w.messages[end].Role == models.RoleToolResult {
		end++
	}
	if end > head {
		w.messages = append(w.messages[:head], w.messages[end:]...)
	}
}

// Messages returns a copy of the window contents, oldest first.
func (w *Window) Messages() []models.ChatMessage {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]models.ChatMessage, len(w.messages))
	for i, msg := range w.messages {
		out[i] = cloneMessage(msg)
	}
	return out
}

// Len returns the number of non-system messages.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hasSystemLocked() {
		return len(w.messages) - 1
	}
	return len(w.messages)
}

// Clear removes everything except the system message.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hasSystemLocked() {
		w.messages = w.messages[:1]
		return
	}
	w.messages = nil
}

func cloneMessage(msg models.ChatMessage) models.ChatMessage {
	clone := msg
	if msg.Images != nil {
		clone.Images = make([][]byte, len(msg.Images))
		for i, img := range msg.Images {
			clone.Images[i] = append([]byte(nil), img...)
		}
	}
	if msg.ToolCalls != nil {
		clone.ToolCalls = make([]models.ToolCall, len(msg.ToolCalls))
		for i, call := range msg.ToolCalls {
			call.Input = append([]byte(nil), call.Input...)
			clone.ToolCalls[i] = call
		}
	}
	if msg.ToolResult != nil {
		result := *msg.ToolResult
		clone.ToolResult = &result
	}
	return clone
}
