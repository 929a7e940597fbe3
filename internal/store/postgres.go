package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Dhrumil1411/Web-Chat-App/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notifyChannel = "store_changes"

const createSchema = `
CREATE TABLE IF NOT EXISTS store_entries (
	path TEXT PRIMARY KEY,
	value JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS store_entries_prefix ON store_entries (path text_pattern_ops);
`

// Postgres keeps the key-path tree as one row per written path and feeds
// subscriptions from LISTEN/NOTIFY. It has no connection-scoped deferred
// writes; presence falls back to heartbeats against this backend.
type Postgres struct {
	pool     *pgxpool.Pool
	cancel   context.CancelFunc
	listener *pgx.Conn

	mu        sync.Mutex
	nextSub   int64
	childSubs map[int64]*pgChildSub
	valueSubs map[int64]*pgValueSub
	closed    bool
}

type pgChildSub struct {
	path    []string
	handler ChildHandler
	seen    map[string]bool
}

type pgValueSub struct {
	path    []string
	handler ValueHandler
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	// Notifications need a dedicated connection outside the pool.
	listener, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open listener connection: %w", err)
	}
	if _, err := listener.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		listener.Close(ctx)
		pool.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", notifyChannel, err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	p := &Postgres{
		pool:      pool,
		cancel:    cancel,
		listener:  listener,
		childSubs: make(map[int64]*pgChildSub),
		valueSubs: make(map[int64]*pgValueSub),
	}
	go p.listen(listenCtx)

	logger.Info("Connected to database successfully")
	return p, nil
}

func (p *Postgres) listen(ctx context.Context) {
	for {
		n, err := p.listener.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Store listener error: %v", err)
			return
		}
		p.dispatch(ctx, n.Payload)
	}
}

func (p *Postgres) Write(ctx context.Context, path string, value any) error {
	if value == nil {
		return p.Delete(ctx, path)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: value not marshalable: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"DELETE FROM store_entries WHERE path = $1 OR path LIKE $2",
		path, path+"/%"); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO store_entries (path, value) VALUES ($1, $2)",
		path, raw); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, path); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Update(ctx context.Context, path string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("store: fields not marshalable: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO store_entries (path, value) VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE SET value = store_entries.value || EXCLUDED.value`,
		path, raw); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, path); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Read(ctx context.Context, path string, dst any) (bool, error) {
	v, found, err := p.readTree(ctx, path)
	if err != nil || !found {
		return false, err
	}
	if dst == nil {
		return true, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(raw, dst)
}

func (p *Postgres) Delete(ctx context.Context, path string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"DELETE FROM store_entries WHERE path = $1 OR path LIKE $2",
		path, path+"/%"); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, path); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) AppendChild(ctx context.Context, path string, value any) (string, error) {
	key := NewPushID()
	if err := p.Write(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (p *Postgres) SubscribeChildAdded(path string, handler ChildHandler) (Subscription, error) {
	sub := &pgChildSub{path: splitPath(path), handler: handler, seen: make(map[string]bool)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.nextSub++
	id := p.nextSub
	p.childSubs[id] = sub
	p.mu.Unlock()

	// Deliver existing children before returning.
	p.deliverChildren(context.Background(), sub)

	return &memSub{close: func() {
		p.mu.Lock()
		delete(p.childSubs, id)
		p.mu.Unlock()
	}}, nil
}

func (p *Postgres) SubscribeValue(path string, handler ValueHandler) (Subscription, error) {
	sub := &pgValueSub{path: splitPath(path), handler: handler}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.nextSub++
	id := p.nextSub
	p.valueSubs[id] = sub
	p.mu.Unlock()

	p.deliverValue(context.Background(), sub)

	return &memSub{close: func() {
		p.mu.Lock()
		delete(p.valueSubs, id)
		p.mu.Unlock()
	}}, nil
}

func (p *Postgres) OnDisconnectDeferred(ctx context.Context, path string, value any) error {
	return ErrDeferredUnsupported
}

func (p *Postgres) Close() error {
	p.mu.Lock()
	p.closed = true
	p.childSubs = make(map[int64]*pgChildSub)
	p.valueSubs = make(map[int64]*pgValueSub)
	p.mu.Unlock()

	p.cancel()
	p.listener.Close(context.Background())
	p.pool.Close()
	return nil
}

func (p *Postgres) dispatch(ctx context.Context, changed string) {
	segs := splitPath(changed)

	p.mu.Lock()
	var values []*pgValueSub
	var children []*pgChildSub
	for _, sub := range p.valueSubs {
		if pathsOverlap(sub.path, segs) {
			values = append(values, sub)
		}
	}
	for _, sub := range p.childSubs {
		if pathsOverlap(sub.path, segs) {
			children = append(children, sub)
		}
	}
	p.mu.Unlock()

	for _, sub := range values {
		p.deliverValue(ctx, sub)
	}
	for _, sub := range children {
		p.deliverChildren(ctx, sub)
	}
}

func (p *Postgres) deliverValue(ctx context.Context, sub *pgValueSub) {
	v, found, err := p.readTree(ctx, strings.Join(sub.path, "/"))
	if err != nil {
		logger.Error("Store value delivery failed: %v", err)
		return
	}
	var raw json.RawMessage
	if found {
		raw, _ = json.Marshal(v)
	}
	sub.handler(raw)
}

func (p *Postgres) deliverChildren(ctx context.Context, sub *pgChildSub) {
	v, found, err := p.readTree(ctx, strings.Join(sub.path, "/"))
	if err != nil {
		logger.Error("Store child delivery failed: %v", err)
		return
	}
	node, ok := v.(map[string]any)
	if !found || !ok {
		return
	}

	p.mu.Lock()
	var added []string
	for key := range node {
		if !sub.seen[key] {
			sub.seen[key] = true
			added = append(added, key)
		}
	}
	p.mu.Unlock()
	sort.Strings(added)

	for _, key := range added {
		raw, err := json.Marshal(node[key])
		if err != nil {
			continue
		}
		sub.handler(key, raw)
	}
}

// readTree assembles the subtree at path from the exact row plus every row
// below it. Deeper rows deep-merge into the row value so a field written at
// a subpath wins over the same field inside an ancestor row.
func (p *Postgres) readTree(ctx context.Context, path string) (any, bool, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT path, value FROM store_entries WHERE path = $1 OR path LIKE $2 ORDER BY path",
		path, path+"/%")
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	tree := make(map[string]any)
	var exact any
	found := false
	for rows.Next() {
		var rowPath string
		var raw []byte
		if err := rows.Scan(&rowPath, &raw); err != nil {
			return nil, false, err
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, false, err
		}
		found = true
		if rowPath == path {
			exact = v
			continue
		}
		rel := strings.TrimPrefix(rowPath, path+"/")
		if path == "" {
			rel = rowPath
		}
		setAt(tree, splitPath(rel), v)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	// A scalar row with no deeper rows stands alone.
	if len(tree) == 0 {
		return exact, true, nil
	}
	if base, ok := exact.(map[string]any); ok {
		mergeTrees(base, tree)
		return base, true, nil
	}
	return tree, true, nil
}

// mergeTrees writes overlay into base in place; overlay values win on
// conflict except that two objects merge recursively.
func mergeTrees(base, overlay map[string]any) {
	for k, ov := range overlay {
		if bm, ok := base[k].(map[string]any); ok {
			if om, ok := ov.(map[string]any); ok {
				mergeTrees(bm, om)
				continue
			}
		}
		base[k] = ov
	}
}
