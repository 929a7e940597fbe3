package models

type GroupType string

const (
	GroupTypePublic  GroupType = "public"
	GroupTypePrivate GroupType = "private"
)

// PublicGroupID is the fixed id of the single public channel. The record is
// lazily created on first access.
const PublicGroupID = "public-main"

const PublicGroupName = "Public General"

// Group is the record stored at groups/{id}. The id lives in the path, not
// in the record. Members always contains the creator; groups are never
// deleted.
type Group struct {
	GroupName string          `json:"groupName"`
	Type      GroupType       `json:"type"`
	CreatedAt int64           `json:"createdAt"`
	CreatedBy string          `json:"createdBy,omitempty"`
	Members   map[string]bool `json:"members,omitempty"`
}

// VisibleTo reports whether the group appears in the given user's directory.
func (g Group) VisibleTo(userID string) bool {
	return g.Type == GroupTypePublic || g.Members[userID]
}

type GroupEventKind string

const (
	// GroupCreated is delivered exactly once per group id.
	GroupCreated GroupEventKind = "created"
	// GroupUpdated carries the full group after a membership change.
	GroupUpdated GroupEventKind = "updated"
)

type GroupEvent struct {
	ID    string
	Group Group
	Kind  GroupEventKind
}
