package models

// Invite is stored at invites/{recipientId}/{inviteId}. It is deleted on
// accept or decline; no history is retained.
type Invite struct {
	ID          string `json:"-"`
	GroupID     string `json:"groupId"`
	GroupName   string `json:"groupName"`
	InviterName string `json:"inviterName"`
	Timestamp   int64  `json:"timestamp"`
}
