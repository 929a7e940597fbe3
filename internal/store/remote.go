package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Dhrumil1411/Web-Chat-App/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Remote implements Store over the gateway websocket protocol. Events for a
// watch are dispatched in arrival order from a single read loop; the server
// may redeliver children after a reconnect, so consumers de-duplicate by
// key.
type Remote struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan models.StoreReply
	watches map[string]watchEntry

	nextID    atomic.Int64
	events    chan models.StoreReply
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

type watchEntry struct {
	child ChildHandler
	value ValueHandler
}

// DialRemote connects to a store gateway, e.g. ws://host:8080/store.
func DialRemote(ctx context.Context, url string) (*Remote, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial store gateway: %w", err)
	}
	r := &Remote{
		conn:    conn,
		pending: make(map[int64]chan models.StoreReply),
		watches: make(map[string]watchEntry),
		events:  make(chan models.StoreReply, 256),
		done:    make(chan struct{}),
	}
	go r.readLoop()
	go r.eventLoop()
	return r, nil
}

func (r *Remote) readLoop() {
	defer func() {
		r.mu.Lock()
		for _, ch := range r.pending {
			close(ch)
		}
		r.pending = make(map[int64]chan models.StoreReply)
		r.mu.Unlock()
		close(r.done)
	}()

	for {
		var f models.StoreReply
		if err := r.conn.ReadJSON(&f); err != nil {
			r.closeErr = err
			return
		}

		if f.Event != "" {
			// Handlers may issue requests of their own, so events are
			// dispatched off the read loop.
			r.events <- f
			continue
		}

		r.mu.Lock()
		ch, ok := r.pending[f.ID]
		if ok {
			delete(r.pending, f.ID)
		}
		r.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

func (r *Remote) eventLoop() {
	for {
		select {
		case f := <-r.events:
			r.mu.Lock()
			w, ok := r.watches[f.WatchID]
			r.mu.Unlock()
			if !ok {
				continue
			}
			switch f.Event {
			case models.EventChildAdded:
				if w.child != nil {
					w.child(f.Key, f.Value)
				}
			case models.EventValue:
				if w.value != nil {
					w.value(f.Value)
				}
			}
		case <-r.done:
			return
		}
	}
}

// closedErr wraps ErrClosed with whatever ended the read loop. Only called
// after done is closed, which orders the closeErr write before the read.
func (r *Remote) closedErr() error {
	if r.closeErr != nil {
		return fmt.Errorf("%w: %v", ErrClosed, r.closeErr)
	}
	return ErrClosed
}

func (r *Remote) request(ctx context.Context, req models.StoreRequest) (models.StoreReply, error) {
	select {
	case <-r.done:
		return models.StoreReply{}, r.closedErr()
	default:
	}

	req.ID = r.nextID.Add(1)
	ch := make(chan models.StoreReply, 1)
	r.mu.Lock()
	r.pending[req.ID] = ch
	r.mu.Unlock()

	r.writeMu.Lock()
	err := r.conn.WriteJSON(req)
	r.writeMu.Unlock()
	if err != nil {
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()
		return models.StoreReply{}, fmt.Errorf("failed to send store request: %w", err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return models.StoreReply{}, r.closedErr()
		}
		if reply.Error != "" {
			return reply, errors.New(reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()
		return models.StoreReply{}, ctx.Err()
	case <-r.done:
		return models.StoreReply{}, r.closedErr()
	}
}

func (r *Remote) Write(ctx context.Context, path string, value any) error {
	if value == nil {
		return r.Delete(ctx, path)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: value not marshalable: %w", err)
	}
	_, err = r.request(ctx, models.StoreRequest{Op: models.OpWrite, Path: path, Value: raw})
	return err
}

func (r *Remote) Update(ctx context.Context, path string, fields map[string]any) error {
	enc := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("store: field %q not marshalable: %w", k, err)
		}
		enc[k] = raw
	}
	_, err := r.request(ctx, models.StoreRequest{Op: models.OpUpdate, Path: path, Fields: enc})
	return err
}

func (r *Remote) Read(ctx context.Context, path string, dst any) (bool, error) {
	reply, err := r.request(ctx, models.StoreRequest{Op: models.OpRead, Path: path})
	if err != nil || !reply.Found {
		return false, err
	}
	if dst == nil {
		return true, nil
	}
	return true, json.Unmarshal(reply.Value, dst)
}

func (r *Remote) Delete(ctx context.Context, path string) error {
	_, err := r.request(ctx, models.StoreRequest{Op: models.OpDelete, Path: path})
	return err
}

func (r *Remote) AppendChild(ctx context.Context, path string, value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("store: value not marshalable: %w", err)
	}
	reply, err := r.request(ctx, models.StoreRequest{Op: models.OpAppend, Path: path, Value: raw})
	if err != nil {
		return "", err
	}
	return reply.ChildID, nil
}

func (r *Remote) SubscribeChildAdded(path string, handler ChildHandler) (Subscription, error) {
	return r.watch(models.OpWatchChildren, path, watchEntry{child: handler})
}

func (r *Remote) SubscribeValue(path string, handler ValueHandler) (Subscription, error) {
	return r.watch(models.OpWatchValue, path, watchEntry{value: handler})
}

func (r *Remote) watch(op models.StoreOp, path string, entry watchEntry) (Subscription, error) {
	watchID := uuid.NewString()

	// Register before sending: initial events may arrive ahead of the
	// response frame.
	r.mu.Lock()
	r.watches[watchID] = entry
	r.mu.Unlock()

	if _, err := r.request(context.Background(), models.StoreRequest{Op: op, Path: path, WatchID: watchID}); err != nil {
		r.mu.Lock()
		delete(r.watches, watchID)
		r.mu.Unlock()
		return nil, err
	}

	return &memSub{close: func() {
		r.mu.Lock()
		delete(r.watches, watchID)
		r.mu.Unlock()
		r.request(context.Background(), models.StoreRequest{Op: models.OpUnwatch, WatchID: watchID})
	}}, nil
}

func (r *Remote) OnDisconnectDeferred(ctx context.Context, path string, value any) error {
	var raw json.RawMessage
	if value != nil {
		var err error
		raw, err = json.Marshal(value)
		if err != nil {
			return fmt.Errorf("store: value not marshalable: %w", err)
		}
	}
	_, err := r.request(ctx, models.StoreRequest{Op: models.OpDefer, Path: path, Value: raw})
	return err
}

func (r *Remote) Close() error {
	r.closeOnce.Do(func() {
		r.writeMu.Lock()
		r.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		r.writeMu.Unlock()
		r.conn.Close()
	})
	return nil
}
