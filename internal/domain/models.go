// Package domain defines the persistence models for visitor chats, their
// messages, local key-value entries and GitHub profile snapshots. These types
// are mapped with GORM and shared by every layer of the service.
package domain

import (
	"time"
)

// Message senders.
const (
	SenderVisitor = "visitor"
	SenderAdmin   = "admin"
)

// ChatStartedMarker is the lastMessageText written when a chat root is first
// created, before any message exists.
const ChatStartedMarker = "Chat started"

// Chat is the root record of one visitor conversation. Exactly one row exists
// per chat id; both the visitor and the admin mutate it through merge-writes.
//
// Fields:
//   - ID: stable chat identifier chosen by the visitor device.
//   - VisitorUID: anonymous principal that owns the chat.
//   - VisitorName: display name submitted by the visitor.
//   - CreatedAt: set once, on the first write.
//   - LastMessageAt / LastMessageText: advisory summary of the newest message.
//   - UnreadForAdmin / UnreadForVisitor: unread flags (0 or 1) per side.
type Chat struct {
	ID               string    `json:"chat_id"            gorm:"column:id;type:varchar(64);primaryKey"`
	VisitorUID       string    `json:"visitor_uid"        gorm:"column:visitor_uid;type:varchar(128);not null;default:''"`
	VisitorName      string    `json:"visitor_name"       gorm:"column:visitor_name;type:varchar(255);not null;default:''"`
	CreatedAt        time.Time `json:"created_at"         gorm:"column:created_at;autoCreateTime:false"`
	LastMessageAt    time.Time `json:"last_message_at"    gorm:"column:last_message_at;index:idx_chats_recency"`
	LastMessageText  string    `json:"last_message_text"  gorm:"column:last_message_text;type:text;not null;default:''"`
	UnreadForAdmin   int       `json:"unread_for_admin"   gorm:"column:unread_for_admin;not null"`
	UnreadForVisitor int       `json:"unread_for_visitor" gorm:"column:unread_for_visitor;not null"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// Message is one immutable entry in a chat's message subsequence. CreatedAt
// is assigned by the server at write time and defines display order.
type Message struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ChatID    string    `json:"chat_id"    gorm:"type:varchar(64);not null;index:idx_chat_msgs,priority:1"`
	Sender    string    `json:"sender"     gorm:"type:varchar(16);not null;check:sender IN ('visitor','admin')"`
	Text      string    `json:"text"       gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime:false;index:idx_chat_msgs,priority:2"`

	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// KVEntry backs the sqlite implementation of the local key-value store used
// for cache entries, the rate-limit reset and per-device visitor state.
type KVEntry struct {
	Key       string    `gorm:"type:varchar(255);primaryKey"`
	Value     []byte    `gorm:"type:blob;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

// TableName returns the database table name for KVEntry.
func (KVEntry) TableName() string { return "kv_entries" }

// ProfileSnapshot is the denormalized copy of a GitHub profile stored at a
// configured document path (for example "profiles/octocat").
type ProfileSnapshot struct {
	Path            string    `json:"path"              gorm:"type:varchar(255);primaryKey"`
	Login           string    `json:"login"             gorm:"type:varchar(64);not null;index"`
	Name            string    `json:"name"`
	Bio             string    `json:"bio"`
	AvatarURL       string    `json:"avatar_url"`
	HTMLURL         string    `json:"html_url"`
	PublicRepos     int       `json:"public_repos"`
	Followers       int       `json:"followers"`
	Following       int       `json:"following"`
	GitHubUpdatedAt string    `json:"github_updated_at"`
	SyncedAt        time.Time `json:"synced_at"`
}

// TableName returns the database table name for ProfileSnapshot.
func (ProfileSnapshot) TableName() string { return "profile_snapshots" }
