package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is the in-process Store. It backs tests and single-process
// deployments, and is the backend the gateway wraps by default. Values are
// held as a JSON-normalized tree; an empty node is indistinguishable from an
// absent one.
type Memory struct {
	mu        sync.Mutex
	root      map[string]any
	nextSub   int64
	childSubs map[int64]*childSub
	valueSubs map[int64]*valueSub
	deferred  []deferredWrite
	closed    bool
}

type childSub struct {
	path    []string
	handler ChildHandler
	seen    map[string]bool
}

type valueSub struct {
	path    []string
	handler ValueHandler
}

type deferredWrite struct {
	path  string
	value any
}

func NewMemory() *Memory {
	return &Memory{
		root:      make(map[string]any),
		childSubs: make(map[int64]*childSub),
		valueSubs: make(map[int64]*valueSub),
	}
}

func (m *Memory) Write(ctx context.Context, path string, value any) error {
	if value == nil {
		return m.Delete(ctx, path)
	}
	norm, err := normalize(value)
	if err != nil {
		return err
	}

	segs := splitPath(path)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	setAt(m.root, segs, norm)
	fire := m.collectNotifications(segs)
	m.mu.Unlock()

	for _, f := range fire {
		f()
	}
	return nil
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	segs := splitPath(path)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	node, ok := lookup(m.root, segs).(map[string]any)
	if !ok {
		node = make(map[string]any)
		setAt(m.root, segs, node)
	}
	for k, v := range fields {
		norm, err := normalize(v)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		if norm == nil {
			delete(node, k)
		} else {
			node[k] = norm
		}
	}
	fire := m.collectNotifications(segs)
	m.mu.Unlock()

	for _, f := range fire {
		f()
	}
	return nil
}

func (m *Memory) Read(ctx context.Context, path string, dst any) (bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, ErrClosed
	}
	v := lookup(m.root, splitPath(path))
	if v == nil {
		m.mu.Unlock()
		return false, nil
	}
	raw, err := json.Marshal(v)
	m.mu.Unlock()
	if err != nil {
		return false, err
	}
	if dst == nil {
		return true, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	segs := splitPath(path)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	deleteAt(m.root, segs)
	fire := m.collectNotifications(segs)
	m.mu.Unlock()

	for _, f := range fire {
		f()
	}
	return nil
}

func (m *Memory) AppendChild(ctx context.Context, path string, value any) (string, error) {
	key := NewPushID()
	if err := m.Write(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) SubscribeChildAdded(path string, handler ChildHandler) (Subscription, error) {
	segs := splitPath(path)
	sub := &childSub{path: segs, handler: handler, seen: make(map[string]bool)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.nextSub++
	id := m.nextSub
	m.childSubs[id] = sub
	fire := m.childEvents(sub)
	m.mu.Unlock()

	// Existing children are delivered before Subscribe returns.
	for _, f := range fire {
		f()
	}
	return &memSub{close: func() {
		m.mu.Lock()
		delete(m.childSubs, id)
		m.mu.Unlock()
	}}, nil
}

func (m *Memory) SubscribeValue(path string, handler ValueHandler) (Subscription, error) {
	segs := splitPath(path)
	sub := &valueSub{path: segs, handler: handler}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.nextSub++
	id := m.nextSub
	m.valueSubs[id] = sub
	fire := m.valueEvent(sub)
	m.mu.Unlock()

	// Initial snapshot, including absence.
	fire()
	return &memSub{close: func() {
		m.mu.Lock()
		delete(m.valueSubs, id)
		m.mu.Unlock()
	}}, nil
}

func (m *Memory) OnDisconnectDeferred(ctx context.Context, path string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.deferred = append(m.deferred, deferredWrite{path: path, value: value})
	return nil
}

// FireDisconnect applies and clears every registered deferred write. The
// gateway calls it when a client connection drops; tests call it to simulate
// one.
func (m *Memory) FireDisconnect() {
	m.mu.Lock()
	pending := m.deferred
	m.deferred = nil
	m.mu.Unlock()

	ctx := context.Background()
	for _, d := range pending {
		if err := m.Write(ctx, d.path, d.value); err != nil {
			// Writes only fail here after Close; nothing to apply to.
			return
		}
	}
}

// ClearDeferred drops registered deferred writes without applying them, the
// clean-shutdown counterpart of FireDisconnect.
func (m *Memory) ClearDeferred() {
	m.mu.Lock()
	m.deferred = nil
	m.mu.Unlock()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.childSubs = make(map[int64]*childSub)
	m.valueSubs = make(map[int64]*valueSub)
	m.deferred = nil
	m.mu.Unlock()
	return nil
}

// collectNotifications builds the handler calls for a mutation at segs.
// Called with the lock held; the returned funcs are invoked after unlock so
// handlers may re-enter the store.
func (m *Memory) collectNotifications(segs []string) []func() {
	var fire []func()
	for _, sub := range m.valueSubs {
		if pathsOverlap(sub.path, segs) {
			fire = append(fire, m.valueEvent(sub))
		}
	}
	for _, sub := range m.childSubs {
		if pathsOverlap(sub.path, segs) {
			fire = append(fire, m.childEvents(sub)...)
		}
	}
	return fire
}

func (m *Memory) valueEvent(sub *valueSub) func() {
	var raw json.RawMessage
	if v := lookup(m.root, sub.path); v != nil {
		raw, _ = json.Marshal(v)
	}
	handler := sub.handler
	return func() { handler(raw) }
}

func (m *Memory) childEvents(sub *childSub) []func() {
	node, ok := lookup(m.root, sub.path).(map[string]any)
	if !ok {
		return nil
	}
	var added []string
	for key := range node {
		if !sub.seen[key] {
			sub.seen[key] = true
			added = append(added, key)
		}
	}
	sort.Strings(added)

	var fire []func()
	for _, key := range added {
		raw, err := json.Marshal(node[key])
		if err != nil {
			continue
		}
		k, handler := key, sub.handler
		fire = append(fire, func() { handler(k, raw) })
	}
	return fire
}

type memSub struct {
	once  sync.Once
	close func()
}

func (s *memSub) Close() {
	s.once.Do(s.close)
}

// normalize round-trips a value through JSON so the tree only ever holds
// maps, slices, strings, float64s, bools and nils.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: value not marshalable: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func lookup(root map[string]any, segs []string) any {
	var cur any = root
	for _, s := range segs {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[s]
		if !ok {
			return nil
		}
	}
	if node, ok := cur.(map[string]any); ok && len(node) == 0 {
		return nil
	}
	return cur
}

func setAt(root map[string]any, segs []string, value any) {
	if len(segs) == 0 {
		return
	}
	node := root
	for _, s := range segs[:len(segs)-1] {
		child, ok := node[s].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[s] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = value
}

func deleteAt(root map[string]any, segs []string) {
	if len(segs) == 0 {
		return
	}
	if len(segs) == 1 {
		delete(root, segs[0])
		return
	}
	child, ok := root[segs[0]].(map[string]any)
	if !ok {
		return
	}
	deleteAt(child, segs[1:])
	// Empty nodes read as absent; prune them so sibling iteration stays
	// clean.
	if len(child) == 0 {
		delete(root, segs[0])
	}
}

func pathsOverlap(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
