package models

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// SourceCode groups every node of one imported project under a single
// record. RootFolderID points at the node carrying is_root; the counts and
// the formatted total size are denormalized at import time so dashboard
// listings never have to walk the tree.
type SourceCode struct {
	ID           string    `bson:"_id"            json:"id"`
	Title        string    `bson:"title"          json:"title"`
	Description  string    `bson:"description,omitempty" json:"description,omitempty"`
	RootFolderID *string   `bson:"root_folder_id,omitempty" json:"root_folder_id,omitempty"`
	FileCount    int       `bson:"file_count"     json:"file_count"`
	FolderCount  int       `bson:"folder_count"   json:"folder_count"`
	TotalSize    string    `bson:"total_size"     json:"total_size"` // Human-formatted, as the legacy schema stored it
	CreatedAt    time.Time `bson:"created_at"     json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"     json:"updated_at"`
}

// NewSourceCodeID generates an 8-hex-character group ID.
func NewSourceCodeID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return strings.ToUpper(hex.EncodeToString([]byte{byte(time.Now().UnixNano()), byte(time.Now().UnixNano() >> 8), byte(time.Now().UnixNano() >> 16), byte(time.Now().UnixNano() >> 24)}))
	}
	return strings.ToUpper(hex.EncodeToString(b))
}
