package models

// Message is the record stored at messages/{groupId}/{messageId}. Messages
// are append-only; the id is the store-assigned push key and doubles as the
// tiebreaker when timestamps collide.
type Message struct {
	ID           string `json:"-"`
	GroupID      string `json:"groupId"`
	Text         string `json:"text"`
	SenderID     string `json:"senderId"`
	SenderName   string `json:"senderName"`
	SenderAvatar string `json:"senderAvatar,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}
