package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dhrumil1411/Web-Chat-App/internal/models"
	"github.com/Dhrumil1411/Web-Chat-App/internal/store"
	"github.com/Dhrumil1411/Web-Chat-App/pkg/logger"
)

// PresenceService owns the one write path that flips a user's online flag.
// On activation it first arms the dead-man switch (deferred writes applied
// by the store when the connection drops), then asserts the online record.
// Against a store without deferred writes it falls back to a lastOnline
// heartbeat; the server-side staleness sweep is the matching half.
type PresenceService struct {
	store     store.Store
	heartbeat time.Duration

	mu            sync.Mutex
	stopHeartbeat context.CancelFunc
}

func NewPresenceService(st store.Store, heartbeat time.Duration) *PresenceService {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &PresenceService{store: st, heartbeat: heartbeat}
}

// Activate establishes the session. Safe to call again on reconnect: the
// deferred switch is re-armed and online re-asserted. The session is not
// established until the online write confirms.
func (s *PresenceService) Activate(ctx context.Context, user *models.User) error {
	path := "users/" + user.ID
	now := time.Now().UnixMilli()

	err := s.store.OnDisconnectDeferred(ctx, path+"/online", false)
	if err == nil {
		err = s.store.OnDisconnectDeferred(ctx, path+"/lastOnline", now)
	}
	switch {
	case err == nil:
		s.stop()
	case errors.Is(err, store.ErrDeferredUnsupported):
		s.startHeartbeat(path)
	default:
		return fmt.Errorf("failed to register disconnect handler: %w", err)
	}

	fields := map[string]any{
		"id":          user.ID,
		"displayName": user.DisplayName,
		"avatarUrl":   user.AvatarURL,
		"online":      true,
		"lastOnline":  now,
	}
	if user.Email != "" {
		fields["email"] = user.Email
	}
	if err := s.store.Update(ctx, path, fields); err != nil {
		s.stop()
		return fmt.Errorf("failed to activate presence: %w", err)
	}
	return nil
}

// Deactivate is the clean logout path: online goes false synchronously
// before the caller releases session state.
func (s *PresenceService) Deactivate(ctx context.Context, user *models.User) error {
	s.stop()
	err := s.store.Update(ctx, "users/"+user.ID, map[string]any{
		"online":     false,
		"lastOnline": time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to deactivate presence: %w", err)
	}
	return nil
}

func (s *PresenceService) startHeartbeat(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopHeartbeat != nil {
		s.stopHeartbeat()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopHeartbeat = cancel

	go func() {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				err := s.store.Update(ctx, path, map[string]any{
					"lastOnline": time.Now().UnixMilli(),
				})
				if err != nil && ctx.Err() == nil {
					logger.Warn("Presence heartbeat failed: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *PresenceService) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopHeartbeat != nil {
		s.stopHeartbeat()
		s.stopHeartbeat = nil
	}
}

// SweepStale marks users offline whose heartbeat went silent for longer
// than staleAfter. Run server-side against backends without deferred
// writes. Returns how many users were flipped.
func (s *PresenceService) SweepStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	var users map[string]models.User
	found, err := s.store.Read(ctx, "users", &users)
	if err != nil {
		return 0, fmt.Errorf("failed to load users for sweep: %w", err)
	}
	if !found {
		return 0, nil
	}

	cutoff := time.Now().Add(-staleAfter).UnixMilli()
	swept := 0
	for id, u := range users {
		if !u.Online || u.LastOnline >= cutoff {
			continue
		}
		err := s.store.Update(ctx, "users/"+id, map[string]any{"online": false})
		if err != nil {
			return swept, fmt.Errorf("failed to sweep user %s: %w", id, err)
		}
		swept++
	}
	return swept, nil
}
