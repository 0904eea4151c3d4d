package db

import (
	"fmt"

	"github.com/raphaelgruber/socialagent/internal/models"
)

// tables lists every table the agent writes.
var tables = []string{
	models.TableChatGroup,
	models.TableChatHistory,
	models.TableDocumentChunk,
	models.TableDocumentCore,
	models.TableAirdropHistory,
	models.TableSNSFollow,
}

// SchemaSQL returns the schema with HNSW indexes sized for dimension.
func SchemaSQL(dimension int) string {
	return fmt.Sprintf(schemaTemplate, dimension, dimension)
}

const schemaTemplate = `
    -- ==========================================================================
    -- CHAT HISTORY (one message by one author)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chat_history SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS identifier ON chat_history TYPE string;
    DEFINE FIELD IF NOT EXISTS external_id ON chat_history TYPE string;
    DEFINE FIELD IF NOT EXISTS reference_id ON chat_history TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS content ON chat_history TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding ON chat_history TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS created_at ON chat_history TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON chat_history TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS chat_history_identifier ON chat_history FIELDS identifier, created_at;
    DEFINE INDEX IF NOT EXISTS chat_history_reference ON chat_history FIELDS reference_id;
    DEFINE INDEX IF NOT EXISTS chat_history_embedding ON chat_history FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- CHAT GROUP (ordered conversation among participants, keyed by group id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chat_group SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS group_id ON chat_group TYPE string;
    DEFINE FIELD IF NOT EXISTS chats ON chat_group TYPE array<object> FLEXIBLE;
    REMOVE FIELD IF EXISTS chats.* ON chat_group;
    DEFINE FIELD chats.* ON chat_group TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created_at ON chat_group TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON chat_group TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- DOCUMENTS (knowledge base)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS document_core SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS title ON document_core TYPE string;
    DEFINE FIELD IF NOT EXISTS source ON document_core TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS metadata ON document_core TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created_at ON document_core TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON document_core TYPE datetime DEFAULT time::now();

    DEFINE TABLE IF NOT EXISTS document_chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS document_id ON document_chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS position ON document_chunk TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS text ON document_chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS metadata ON document_chunk TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS embedding ON document_chunk TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS created_at ON document_chunk TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON document_chunk TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS document_chunk_document ON document_chunk FIELDS document_id;
    DEFINE INDEX IF NOT EXISTS document_chunk_embedding ON document_chunk FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- AIRDROPS AND FOLLOWS
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS airdrop_history SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON airdrop_history TYPE string;
    DEFINE FIELD IF NOT EXISTS address ON airdrop_history TYPE string;
    DEFINE FIELD IF NOT EXISTS amount ON airdrop_history TYPE string;
    DEFINE FIELD IF NOT EXISTS transaction_hash ON airdrop_history TYPE string;
    DEFINE FIELD IF NOT EXISTS post_id ON airdrop_history TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON airdrop_history TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS airdrop_history_user ON airdrop_history FIELDS user_id;

    DEFINE TABLE IF NOT EXISTS sns_follow SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON sns_follow TYPE string;
    DEFINE FIELD IF NOT EXISTS username ON sns_follow TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS created_at ON sns_follow TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS sns_follow_user ON sns_follow FIELDS user_id UNIQUE;
`
