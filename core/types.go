// Package core holds the data model shared by the memory tiers, the engine
// and the server.
package core

import (
	"errors"
	"strings"
	"time"
)

// IgnoreMemory is the memory-region value meaning "persist nothing this turn".
// The model emits it deliberately; the parser also produces it when the
// memory region is missing.
const IgnoreMemory = "IGNORE"

// ErrEmptyIdentifier is returned when an operation is called without an identifier.
var ErrEmptyIdentifier = errors.New("identifier must not be empty")

// Collection names a namespaced set of documents in the semantic store.
type Collection string

const (
	CollectionProfile   Collection = "profile"
	CollectionPersona   Collection = "persona"
	CollectionKnowledge Collection = "server-info"
	CollectionHistory   Collection = "history"
)

// Collections lists every collection the engine uses.
var Collections = []Collection{
	CollectionProfile,
	CollectionPersona,
	CollectionKnowledge,
	CollectionHistory,
}

// Metadata keys written on stored documents.
const (
	MetaUserID    = "userId"
	MetaScopeID   = "guildId"
	MetaType      = "type"
	MetaUpdatedAt = "updatedAt"
	MetaCreatedAt = "createdAt"
	MetaIsSummary = "isSummary"
)

// Document types stored under MetaType.
const (
	TypeProfile   = "user_profile"
	TypePersona   = "user_persona"
	TypeKnowledge = "server_knowledge_base"
	TypeMemory    = "memory"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label returns the prefix used when a turn is rendered into a prompt.
func (r Role) Label() string {
	if r == RoleUser {
		return "User"
	}
	return "Bot"
}

// Turn is one message in the recency buffer. Turns are never modified after
// they are written.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// Document is a unit stored in a semantic store collection.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Filter is an equality match on metadata fields, combined with logical AND.
// An empty filter matches every document.
type Filter map[string]string

// Matches reports whether the given metadata satisfies every clause.
func (f Filter) Matches(meta map[string]string) bool {
	for k, v := range f {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// Reply is what the caller of a conversation receives.
type Reply struct {
	Text     string `json:"reply"`
	Reaction string `json:"reaction"`
}

// ValidateIdentifier rejects empty or whitespace-only identifiers.
func ValidateIdentifier(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyIdentifier
	}
	return nil
}
