package models

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// NodeType distinguishes folders from files. A node's type never changes
// after creation.
type NodeType string

const (
	TypeFolder NodeType = "folder"
	TypeFile   NodeType = "file"
)

// Node represents one file or folder in an imported source-code structure.
//
// Nodes form a tree through ParentID; the flat collection is the only
// persisted form, and nested trees are rebuilt on read. Content lives
// inline on file nodes and is excluded by projection from every tree-shape
// query because blobs can be large enough to stall a fetch.
type Node struct {
	ID           string    `bson:"_id"            json:"id"`
	Name         string    `bson:"name"           json:"name"`
	NameCI       string    `bson:"name_ci"        json:"-"` // Case-insensitive key for sorting/search
	Type         NodeType  `bson:"type"           json:"type"`
	Path         string    `bson:"path"           json:"path"` // Full path from the imported root, e.g. /repo/src/main.go
	ParentID     *string   `bson:"parent_id,omitempty"      json:"parent_id"`
	IsRoot       bool      `bson:"is_root"        json:"is_root"`
	Language     string    `bson:"language,omitempty"       json:"language,omitempty"` // Lowercased file extension; empty for folders
	Content      string    `bson:"content,omitempty"        json:"content,omitempty"`  // File payload: UTF-8 text or base64 data URI for images
	Size         int64     `bson:"size"           json:"size"`
	SourceCodeID *string   `bson:"source_code_id,omitempty" json:"source_code_id,omitempty"`
	CreatedAt    time.Time `bson:"created_at"     json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"     json:"updated_at"`
}

// IsFolder returns true if the node is a folder.
func (n *Node) IsFolder() bool {
	return n.Type == TypeFolder
}

// NewNodeID generates an 8-character node ID with an FD (folder) or FL
// (file) prefix, matching the ID scheme of the legacy dashboard so both
// generations of records sort and display the same way.
func NewNodeID(t NodeType) string {
	prefix := "FL"
	if t == TypeFolder {
		prefix = "FD"
	}
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// fall back to a time-derived suffix rather than panic.
		return prefix + strings.ToUpper(hex.EncodeToString([]byte{byte(time.Now().UnixNano()), byte(time.Now().UnixNano() >> 8), byte(time.Now().UnixNano() >> 16)}))
	}
	return prefix + strings.ToUpper(hex.EncodeToString(b))
}
