package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Dhrumil1411/Web-Chat-App/internal/models"
	"github.com/Dhrumil1411/Web-Chat-App/internal/store"
	"github.com/Dhrumil1411/Web-Chat-App/pkg/logger"

	"github.com/gorilla/websocket"
)

// Conn serves one gateway client. It executes store requests from the read
// pump, streams watch events through the write pump, and owns the client's
// deferred writes: when the connection ends, for any reason, those writes
// are applied to the backing store. That is the dead-man switch clearing
// presence for clients that vanish without a logout.
type Conn struct {
	ws    *websocket.Conn
	store store.Store
	send  chan []byte
	done  chan struct{}

	mu       sync.Mutex
	watches  map[string]store.Subscription
	deferred []deferredWrite

	teardownOnce sync.Once
}

type deferredWrite struct {
	path  string
	value json.RawMessage
}

func NewConn(ws *websocket.Conn, st store.Store) *Conn {
	return &Conn{
		ws:      ws,
		store:   st,
		send:    make(chan []byte, 256),
		done:    make(chan struct{}),
		watches: make(map[string]store.Subscription),
	}
}

func (c *Conn) ReadPump() {
	defer c.teardown()

	c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error: %v", err)
			}
			return
		}

		var req models.StoreRequest
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Warn("Dropping malformed store request: %v", err)
			continue
		}
		c.handle(req)
	}
}

func (c *Conn) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error: %v", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Conn) handle(req models.StoreRequest) {
	ctx := context.Background()
	reply := models.StoreReply{ID: req.ID}

	switch req.Op {
	case models.OpWrite:
		reply = c.result(req.ID, c.store.Write(ctx, req.Path, rawValue(req.Value)))

	case models.OpUpdate:
		fields := make(map[string]any, len(req.Fields))
		for k, v := range req.Fields {
			fields[k] = rawValue(v)
		}
		reply = c.result(req.ID, c.store.Update(ctx, req.Path, fields))

	case models.OpRead:
		var value json.RawMessage
		found, err := c.store.Read(ctx, req.Path, &value)
		reply = c.result(req.ID, err)
		reply.Found = found
		if found {
			reply.Value = value
		}

	case models.OpDelete:
		reply = c.result(req.ID, c.store.Delete(ctx, req.Path))

	case models.OpAppend:
		childID, err := c.store.AppendChild(ctx, req.Path, rawValue(req.Value))
		reply = c.result(req.ID, err)
		reply.ChildID = childID

	case models.OpWatchChildren:
		watchID := req.WatchID
		sub, err := c.store.SubscribeChildAdded(req.Path, func(key string, value json.RawMessage) {
			c.sendEvent(models.StoreReply{
				Event:   models.EventChildAdded,
				WatchID: watchID,
				Key:     key,
				Value:   value,
			})
		})
		reply = c.result(req.ID, err)
		if err == nil {
			c.addWatch(watchID, sub)
		}

	case models.OpWatchValue:
		watchID := req.WatchID
		sub, err := c.store.SubscribeValue(req.Path, func(value json.RawMessage) {
			c.sendEvent(models.StoreReply{
				Event:   models.EventValue,
				WatchID: watchID,
				Value:   value,
			})
		})
		reply = c.result(req.ID, err)
		if err == nil {
			c.addWatch(watchID, sub)
		}

	case models.OpUnwatch:
		c.mu.Lock()
		sub := c.watches[req.WatchID]
		delete(c.watches, req.WatchID)
		c.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
		reply.OK = true

	case models.OpDefer:
		c.mu.Lock()
		c.deferred = append(c.deferred, deferredWrite{path: req.Path, value: req.Value})
		c.mu.Unlock()
		reply.OK = true

	default:
		reply.Error = "unknown op: " + string(req.Op)
	}

	c.sendEvent(reply)
}

func (c *Conn) result(id int64, err error) models.StoreReply {
	reply := models.StoreReply{ID: id, OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
	}
	return reply
}

func (c *Conn) addWatch(watchID string, sub store.Subscription) {
	c.mu.Lock()
	if old := c.watches[watchID]; old != nil {
		old.Close()
	}
	c.watches[watchID] = sub
	c.mu.Unlock()
}

func (c *Conn) sendEvent(reply models.StoreReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		logger.Error("Error marshaling store reply: %v", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		// A full buffer means the client stopped draining. Dropping a
		// frame here could be a request reply the client is blocked on,
		// so close the connection instead; its deferred writes fire and
		// a reconnect replays state.
		logger.Warn("Closing slow gateway client")
		go c.teardown()
	}
}

// teardown runs once when the connection ends: watches stop, deferred
// writes fire against the store, the write pump is released.
func (c *Conn) teardown() {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		watches := c.watches
		c.watches = make(map[string]store.Subscription)
		pending := c.deferred
		c.deferred = nil
		c.mu.Unlock()

		for _, sub := range watches {
			sub.Close()
		}

		ctx := context.Background()
		for _, d := range pending {
			if err := c.store.Write(ctx, d.path, rawValue(d.value)); err != nil {
				logger.Error("Deferred write failed for %s: %v", d.path, err)
			}
		}

		close(c.done)
		c.ws.Close()
	})
}

// rawValue maps a missing or null JSON value to nil so Write treats it as a
// delete, matching the store contract.
func rawValue(raw json.RawMessage) any {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return raw
}
