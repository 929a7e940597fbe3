package session

import (
	"sync"

	"github.com/Dhrumil1411/Web-Chat-App/internal/store"
)

// Coordinator keeps at most one live subscription per resource key. It
// exists so no call site has to remember detach-then-reattach by hand:
// attaching over an existing key replaces the old subscription instead of
// stacking a second listener.
//
// Detach stops future delivery for the key, but a callback already in
// flight may still fire afterwards. Handlers capture the epoch returned by
// Attach and check Alive before applying anything.
type Coordinator struct {
	mu     sync.Mutex
	subs   map[string]store.Subscription
	epochs map[string]uint64
}

// AttachFunc builds the subscription for a key. It receives the epoch the
// subscription belongs to, for Alive checks inside the handler.
type AttachFunc func(epoch uint64) (store.Subscription, error)

func NewCoordinator() *Coordinator {
	return &Coordinator{
		subs:   make(map[string]store.Subscription),
		epochs: make(map[string]uint64),
	}
}

// Attach replaces any existing subscription for key, then installs the one
// attach returns. The attach call runs without the coordinator lock held,
// so handlers delivered synchronously during attach may re-enter the
// coordinator for other keys.
func (c *Coordinator) Attach(key string, attach AttachFunc) (uint64, error) {
	c.mu.Lock()
	old := c.subs[key]
	delete(c.subs, key)
	c.epochs[key]++
	epoch := c.epochs[key]
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	sub, err := attach(epoch)
	if err != nil {
		return epoch, err
	}

	c.mu.Lock()
	if c.epochs[key] == epoch {
		c.subs[key] = sub
		c.mu.Unlock()
		return epoch, nil
	}
	// A newer Attach or Detach won the race while we were subscribing.
	c.mu.Unlock()
	sub.Close()
	return epoch, nil
}

// Alive reports whether epoch is still the current generation for key.
func (c *Coordinator) Alive(key string, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochs[key] == epoch
}

// Detach closes the subscription for key, if any.
func (c *Coordinator) Detach(key string) {
	c.mu.Lock()
	sub := c.subs[key]
	delete(c.subs, key)
	c.epochs[key]++
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

// DetachAll closes every subscription. Safe to call when nothing was ever
// attached.
func (c *Coordinator) DetachAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]store.Subscription)
	for key := range c.epochs {
		c.epochs[key]++
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
