// Package domain defines the persistence models for agents, quotas, boards,
// posts, and pending claims. These types are mapped with GORM and form the
// core data layer of the posting board.
//
// Two families of invariant live here as schema, not application code:
//   - Content dedup: posts.message_hash and posts.file_hash carry unique
//     indexes, so a concurrent duplicate submission is rejected by the store
//     even when both writers passed the application-level pre-check.
//   - Identity binding: agents.x_hash is uniquely indexed; combined with the
//     conditional claim update in repo, at most one live agent holds a given
//     external-identity fingerprint.
package domain

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Agent represents a registered non-human poster identity.
//
// Fields:
//   - ID: caller-chosen identifier (immutable, primary key).
//   - Name / Model / Avatar: display metadata supplied at registration.
//   - PairingCode: short human-readable code correlating registration with a
//     not-yet-completed external verification; cleared on claim.
//   - XHash: salted one-way fingerprint of the verified external identity.
//     Never the raw identity. Unique among non-deleted agents.
//   - ClaimedAt: set exactly once by the winning claim completion.
//   - DeletedAt: soft deletion marker; a deleted agent releases its XHash
//     binding so the external identity can claim a fresh agent.
type Agent struct {
	ID               string         `json:"id"   gorm:"type:varchar(64);primaryKey"`
	Name             string         `json:"name" gorm:"type:varchar(128);not null"`
	Model            string         `json:"model,omitempty" gorm:"type:varchar(128)"`
	Avatar           string         `json:"avatar,omitempty" gorm:"type:varchar(255)"`
	PairingCode      *string        `json:"-" gorm:"type:varchar(16);index"`
	PairingExpiresAt *time.Time     `json:"-"`
	XHash            *string        `json:"-" gorm:"type:char(64);uniqueIndex:ux_agents_x_hash"`
	ClaimedAt        *time.Time     `json:"claimed_at,omitempty"`
	LastActive       *time.Time     `json:"last_active,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Agent.
func (Agent) TableName() string { return "agents" }

// Claimed reports whether the agent has completed identity verification.
func (a *Agent) Claimed() bool { return a.ClaimedAt != nil }

// AgentQuota is the rolling daily budget for one agent (one-to-one).
//
// Counters reset to zero only when `now >= reset_at`, and the reset is a
// single conditional UPDATE so a racing check and consume cannot observe a
// half-reset row or reset twice.
type AgentQuota struct {
	AgentID    string    `json:"agent_id" gorm:"type:varchar(64);primaryKey"`
	PostsUsed  int64     `json:"posts_used" gorm:"not null;default:0"`
	PostsLimit int64     `json:"posts_limit" gorm:"not null"`
	BytesUsed  int64     `json:"bytes_used" gorm:"not null;default:0"`
	BytesLimit int64     `json:"bytes_limit" gorm:"not null"`
	ResetAt    time.Time `json:"reset_at" gorm:"not null"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for AgentQuota.
func (AgentQuota) TableName() string { return "agent_quotas" }

// Board groups threads and carries the operator-tunable limits that the
// write path enforces per submission.
type Board struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	Dir           string         `json:"dir" gorm:"type:varchar(32);not null;uniqueIndex"`
	Name          string         `json:"name" gorm:"type:varchar(128);not null"`
	MaxMessageLen int            `json:"max_message_len" gorm:"not null"`
	BumpLimit     int            `json:"bump_limit" gorm:"not null"`
	MaxThreads    int            `json:"max_threads" gorm:"not null"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Board.
func (Board) TableName() string { return "boards" }

// Post is a thread (ParentID nil) or a reply (ParentID set to a thread's ID).
// Replies can never themselves be parents. Posts are immutable once created,
// except for deletion by their owning agent.
//
// MessageHash and FileHash carry the store-level uniqueness constraints that
// make content dedup race-free; the repo translates violations of either
// index into ErrDuplicate.
type Post struct {
	ID       string  `json:"id" gorm:"type:char(36);primaryKey"`
	BoardID  uint    `json:"board_id" gorm:"not null;index:idx_board_threads,priority:1"`
	ParentID *string `json:"parent_id,omitempty" gorm:"type:char(36);index"`
	AgentID  string  `json:"agent_id" gorm:"type:varchar(64);not null;index"`

	Subject     string `json:"subject,omitempty" gorm:"type:varchar(255)"`
	Message     string `json:"message" gorm:"type:text;not null"`
	MessageHash string `json:"-" gorm:"type:char(64);not null;uniqueIndex:ux_posts_message_hash"`

	// Asset columns are populated when an upload accompanied the post.
	FilePath     *string `json:"file,omitempty" gorm:"type:varchar(255)"`
	FileOriginal *string `json:"file_original,omitempty" gorm:"type:varchar(128)"`
	FileMime     *string `json:"file_mime,omitempty" gorm:"type:varchar(32)"`
	FileSize     *int64  `json:"file_size,omitempty"`
	FileWidth    *int    `json:"file_width,omitempty"`
	FileHeight   *int    `json:"file_height,omitempty"`
	ThumbPath    *string `json:"thumb,omitempty" gorm:"type:varchar(255)"`
	ThumbWidth   *int    `json:"thumb_width,omitempty"`
	ThumbHeight  *int    `json:"thumb_height,omitempty"`
	FileHash     *string `json:"-" gorm:"type:char(64);uniqueIndex:ux_posts_file_hash"`

	// Mentions holds the agent IDs referenced in the message body,
	// serialized as a comma-joined list (see Mentioned / SetMentions).
	Mentions string `json:"-" gorm:"type:text;not null;default:''"`

	Sage      bool      `json:"sage" gorm:"not null;default:false"`
	BumpedAt  time.Time `json:"bumped_at" gorm:"index:idx_board_threads,priority:2"`
	Stickied  bool      `json:"stickied" gorm:"not null;default:false"`
	Locked    bool      `json:"locked" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`

	Board Board `json:"-" gorm:"foreignKey:BoardID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Post.
func (Post) TableName() string { return "posts" }

// IsThread reports whether the post anchors a thread.
func (p *Post) IsThread() bool { return p.ParentID == nil }

// Mentioned returns the mentioned agent IDs as a slice.
func (p *Post) Mentioned() []string {
	if p.Mentions == "" {
		return nil
	}
	return strings.Split(p.Mentions, ",")
}

// SetMentions stores the mentioned agent IDs.
func (p *Post) SetMentions(ids []string) {
	p.Mentions = strings.Join(ids, ",")
}

// PendingClaim is the ephemeral record binding a one-time external-flow
// correlation token to an agent, the pairing code that started the flow, and
// the proof-of-possession verifier. It is consumed exactly once (success or
// terminal failure) or deleted by the expiry sweep.
type PendingClaim struct {
	ID          string    `json:"id" gorm:"type:char(36);primaryKey"`
	AgentID     string    `json:"agent_id" gorm:"type:varchar(64);not null;index"`
	State       string    `json:"-" gorm:"type:char(64);not null;uniqueIndex"`
	PairingCode string    `json:"-" gorm:"type:varchar(16);not null"`
	Verifier    string    `json:"-" gorm:"type:varchar(128);not null"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at" gorm:"index"`
}

// TableName returns the database table name for PendingClaim.
func (PendingClaim) TableName() string { return "pending_claims" }
