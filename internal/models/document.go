package models

import (
	"math/big"
	"time"
)

// DocumentCore is a knowledge document as ingested.
type DocumentCore struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Source    string         `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (d *DocumentCore) EntityTable() string { return TableDocumentCore }
func (d *DocumentCore) EntityID() string    { return d.ID }

// DocumentChunk is a searchable piece of a document.
type DocumentChunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Position   int            `json:"position"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (c *DocumentChunk) EntityTable() string { return TableDocumentChunk }
func (c *DocumentChunk) EntityID() string    { return c.ID }

// AirdropHistory records a token transfer made in answer to a reply.
type AirdropHistory struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Address         string    `json:"address"`
	Amount          string    `json:"amount"` // decimal string in whole tokens
	TransactionHash string    `json:"transaction_hash"`
	PostID          string    `json:"post_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewAirdropHistory keys the record by user and reply so one reply never pays twice.
func NewAirdropHistory(userID, postID, address string, amount *big.Float, txHash string) *AirdropHistory {
	return &AirdropHistory{
		ID:              DeterministicID(userID, postID),
		UserID:          userID,
		Address:         address,
		Amount:          amount.Text('f', -1),
		TransactionHash: txHash,
		PostID:          postID,
	}
}

func (a *AirdropHistory) EntityTable() string { return TableAirdropHistory }
func (a *AirdropHistory) EntityID() string    { return a.ID }

// SNSFollow is a snapshot of an account that follows the agent.
type SNSFollow struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

func NewSNSFollow(userID, username string) *SNSFollow {
	return &SNSFollow{ID: DeterministicID("follow", userID), UserID: userID, Username: username}
}

func (f *SNSFollow) EntityTable() string { return TableSNSFollow }
func (f *SNSFollow) EntityID() string    { return f.ID }
