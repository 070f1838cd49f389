// Package posting holds the canonical job-posting model shared by the
// aggregation and broadcast pipeline.
package posting

import (
	"time"
)

// Defaults applied when a field cannot be extracted from upstream text.
const (
	DefaultOrganization  = "Government of India"
	DefaultQualification = "As per notification"
	DefaultLastDate      = "Check notification"
	DefaultLocation      = "All India"
)

// RawPosting is what a source adapter yields before normalization.
type RawPosting struct {
	Source    string
	Title     string
	Summary   string
	Link      string
	Published string
	// Organization is an optional hint from the adapter. Extraction still
	// runs when it is empty.
	Organization string
}

// Posting is one normalized job notice.
type Posting struct {
	ID               int64     `db:"id"`
	Source           string    `db:"source"`
	Title            string    `db:"title"`
	Organization     string    `db:"organization"`
	Qualification    string    `db:"qualification"`
	LastDate         string    `db:"last_date"`
	ApplyLink        string    `db:"apply_link"`
	NotificationLink string    `db:"notification_link"`
	PostDate         string    `db:"post_date"`
	Location         string    `db:"location"`
	Summary          string    `db:"summary"`
	Fingerprint      string    `db:"fingerprint"`
	Delivered        bool      `db:"delivered"`
	CreatedAt        time.Time `db:"created_at"`
}

// Destination kinds.
const (
	KindChannel    = "channel"
	KindGroup      = "group"
	KindSupergroup = "supergroup"
	KindPrivate    = "private"
)

// Destination is a chat that receives broadcasts.
type Destination struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Kind      string    `db:"kind"`
	AddedBy   int64     `db:"added_by"`
	AddedAt   time.Time `db:"added_at"`
	Active    bool      `db:"active"`
	FailCount int       `db:"fail_count"`
}

// User is a person who started a conversation with the bot.
type User struct {
	ID       int64     `db:"id"`
	Username string    `db:"username"`
	Name     string    `db:"name"`
	JoinedAt time.Time `db:"joined_at"`
	Verified bool      `db:"verified"`
}
