// Package models defines the records the agent persists: chat histories,
// chat groups, knowledge documents, airdrop records and follow snapshots.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Table names shared by every storage backend.
const (
	TableChatHistory    = "chat_history"
	TableChatGroup      = "chat_group"
	TableDocumentCore   = "document_core"
	TableDocumentChunk  = "document_chunk"
	TableAirdropHistory = "airdrop_history"
	TableSNSFollow      = "sns_follow"
)

// Entity is anything that can be staged and saved in a single transaction.
type Entity interface {
	EntityTable() string
	EntityID() string
}

// idNamespace scopes deterministic record ids for this application.
var idNamespace = uuid.MustParse("6f1d4c52-8e0a-4b3f-9a57-2c0b7d9e4a11")

// DeterministicID derives a stable id from its parts. The same parts always
// produce the same id, so re-staging a record overwrites instead of duplicating.
func DeterministicID(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += "\x00"
		}
		key += p
	}
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// touch sets CreatedAt on first save and always advances UpdatedAt.
func touch(created, updated *time.Time, now time.Time) {
	if created.IsZero() {
		*created = now
	}
	*updated = now
}
