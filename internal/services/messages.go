package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dhrumil1411/Web-Chat-App/internal/models"
	"github.com/Dhrumil1411/Web-Chat-App/internal/store"
)

// ErrEmptyText rejects empty or whitespace-only messages locally, before
// any round trip.
var ErrEmptyText = errors.New("message text is empty")

type MessageService struct {
	store store.Store
}

func NewMessageService(st store.Store) *MessageService {
	return &MessageService{store: st}
}

// Send appends a message to the group's log. Messages are never updated or
// deleted; the store assigns the ordering key, the client supplies the
// timestamp.
func (s *MessageService) Send(ctx context.Context, groupID string, sender *models.User, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	msg := models.Message{
		GroupID:      groupID,
		Text:         text,
		SenderID:     sender.ID,
		SenderName:   sender.DisplayName,
		SenderAvatar: sender.AvatarURL,
		Timestamp:    time.Now().UnixMilli(),
	}
	if _, err := s.store.AppendChild(ctx, "messages/"+groupID, msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Subscribe streams prior and future messages of a group. The stream is
// at-least-once: after a reconnect already-seen messages may be delivered
// again, and sender clock skew can put arrivals out of timestamp order.
// Feed the stream into a MessageView for the de-duplicated, sorted log.
func (s *MessageService) Subscribe(groupID string, onMessage func(models.Message)) (store.Subscription, error) {
	return s.store.SubscribeChildAdded("messages/"+groupID, func(key string, raw json.RawMessage) {
		var msg models.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		msg.ID = key
		if msg.GroupID == "" {
			msg.GroupID = groupID
		}
		onMessage(msg)
	})
}

// MessageView is the consumer-side log: de-duplicated by message id, sorted
// by timestamp with the push id breaking ties.
type MessageView struct {
	mu   sync.Mutex
	byID map[string]bool
	log  []models.Message
}

func NewMessageView() *MessageView {
	return &MessageView{byID: make(map[string]bool)}
}

// Add inserts a message at its sorted position. Returns false for
// duplicates.
func (v *MessageView) Add(msg models.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.byID[msg.ID] {
		return false
	}
	v.byID[msg.ID] = true

	i := sort.Search(len(v.log), func(i int) bool {
		if v.log[i].Timestamp != msg.Timestamp {
			return v.log[i].Timestamp > msg.Timestamp
		}
		return v.log[i].ID > msg.ID
	})
	v.log = append(v.log, models.Message{})
	copy(v.log[i+1:], v.log[i:])
	v.log[i] = msg
	return true
}

// Messages returns a copy of the sorted log.
func (v *MessageView) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.Message, len(v.log))
	copy(out, v.log)
	return out
}

func (v *MessageView) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.log)
}
