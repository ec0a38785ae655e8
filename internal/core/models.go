package core

import (
	"time"
)

const (
	StatusActive  = "active"
	StatusPending = "pending"
	StatusDeleted = "deleted"
)

// MaxBodyLen is the single-part SMS limit enforced at the schema level too.
const MaxBodyLen = 160

type Message struct {
	ID           string    `json:"id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Body         string    `json:"message"`
	Status       string    `json:"status"`
	ReceivedAt   time.Time `json:"received_at"`
	AttachmentID *string   `json:"attachment_id,omitempty"`
}

type Attachment struct {
	ID          string `json:"id"`
	MessageID   string `json:"message_id"`
	StoragePath string `json:"storage_path"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// FileRef describes an upload that already landed on disk. The receiver owns
// the disk I/O; the store only records where it put the bytes.
type FileRef struct {
	StoragePath string
	Filename    string
	ContentType string
}
