package model

import (
	"strings"
	"time"
)

// Flag is the per-placement bitmask of system flags.
type Flag int

const (
	FlagAnswered Flag = 1 << iota
	FlagDeleted
	FlagFlagged
	FlagSeen
	FlagUser
)

// AllFlags lists the five system flags in bit order.
var AllFlags = []Flag{FlagAnswered, FlagDeleted, FlagFlagged, FlagSeen, FlagUser}

var flagNames = map[Flag]string{
	FlagAnswered: "answered",
	FlagDeleted:  "deleted",
	FlagFlagged:  "flagged",
	FlagSeen:     "seen",
	FlagUser:     "user",
}

// Has reports whether every bit of x is set.
func (f Flag) Has(x Flag) bool {
	return f&x == x
}

// Set returns f with x set or cleared.
func (f Flag) Set(x Flag, on bool) Flag {
	if on {
		return f | x
	}
	return f &^ x
}

func (f Flag) String() string {
	var names []string
	for _, x := range AllFlags {
		if f.Has(x) {
			names = append(names, flagNames[x])
		}
	}
	return strings.Join(names, ",")
}

// ParseFlag maps a flag name ("seen", "flagged", ...) to its bit.
func ParseFlag(name string) (Flag, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, n := range flagNames {
		if n == name {
			return f, true
		}
	}
	return 0, false
}

// Message is a globally deduplicated stored message.
type Message struct {
	ID        int64     `json:"id" db:"id"`
	UniqueID  string    `json:"unique_id" db:"unique_id"`
	MessageID string    `json:"message_id" db:"message_id"`
	Date      time.Time `json:"date" db:"date"`
	Subject   string    `json:"subject" db:"subject"`
	Sender    string    `json:"sender" db:"sender"`

	// RawContent is the blob key of the full RFC 5322 message. It is set
	// only once body, attachments and recipients have been persisted.
	RawContent *string `json:"raw_content,omitempty" db:"raw_content"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Finalized reports whether the message body has been fully persisted.
func (m *Message) Finalized() bool {
	return m.RawContent != nil && *m.RawContent != ""
}

// Recipient type constants.
const (
	RecipientTo  = "to"
	RecipientCc  = "cc"
	RecipientBcc = "bcc"
)

// Recipient is one addressee of a stored message.
type Recipient struct {
	MessageID int64  `json:"message_id" db:"message_id"`
	Type      string `json:"type" db:"type"`
	Address   string `json:"address" db:"address"`
	Name      string `json:"name" db:"name"`
}

// Part is a text body part. HTMLContent is set for markup parts, in which
// case Content holds the stripped text.
type Part struct {
	ID          int64   `json:"id" db:"id"`
	MessageID   int64   `json:"message_id" db:"message_id"`
	Content     string  `json:"content" db:"content"`
	HTMLContent *string `json:"html_content,omitempty" db:"html_content"`
}

// Attachment references a message attachment stored as a blob.
type Attachment struct {
	ID          int64  `json:"id" db:"id"`
	MessageID   int64  `json:"message_id" db:"message_id"`
	BlobKey     string `json:"blob_key" db:"blob_key"`
	Name        string `json:"name" db:"name"`
	ContentType string `json:"content_type" db:"content_type"`
	Size        int64  `json:"size" db:"size"`
}

// Placement is one occurrence of a message in a folder.
type Placement struct {
	ID        int64 `json:"id" db:"id"`
	MessageID int64 `json:"message_id" db:"message_id"`
	FolderID  int64 `json:"folder_id" db:"folder_id"`
	Flags     Flag  `json:"flags" db:"flags"`

	// UID is the remote sequence number; nil for local-only folders.
	UID *uint32 `json:"uid,omitempty" db:"uid"`

	// Replied points at the placement of a reply or forward produced
	// from this message.
	Replied *int64 `json:"replied,omitempty" db:"replied"`
}
