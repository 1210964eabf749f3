// Package presencetest provides a recording presence.Conn for tests.
package presencetest

import (
	"encoding/json"
	"sync"
	"time"

	"gridsync/internal/presence"
	"gridsync/internal/scope"
)

// Conn records every frame it is sent. Set Full to simulate a saturated send
// queue.
type Conn struct {
	id   string
	info presence.ConnInfo

	mu     sync.Mutex
	frames [][]byte
	Full   bool
}

func NewConn(id string, sc scope.Scope) *Conn {
	return &Conn{
		id: id,
		info: presence.ConnInfo{
			ID:          id,
			ActorID:     sc.ActorID,
			Login:       sc.Login,
			Role:        sc.Role,
			DistrictID:  sc.DistrictID,
			ConnectedAt: time.Now(),
		},
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Info() presence.ConnInfo { return c.info }

func (c *Conn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Full {
		return false
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return true
}

// Envelopes decodes everything received so far.
func (c *Conn) Envelopes() []presence.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]presence.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		env, err := presence.Decode(f)
		if err == nil {
			out = append(out, env)
		}
	}
	return out
}

// OfType returns the decoded data of every received message of msgType.
func (c *Conn) OfType(msgType string) []map[string]any {
	var out []map[string]any
	for _, env := range c.Envelopes() {
		if env.Type != msgType {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal(env.Data, &data); err == nil {
			out = append(out, data)
		}
	}
	return out
}

func (c *Conn) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}
