package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateVectorQuery(t *testing.T) {
	vec := []float32{1, 0}
	tests := []struct {
		name    string
		q       VectorQuery
		wantErr bool
	}{
		{"chat history", VectorQuery{Table: "chat_history", TextColumn: "content", Vector: vec}, false},
		{"document chunk", VectorQuery{Table: "document_chunk", TextColumn: "text", Vector: vec}, false},
		{"filter key ok", VectorQuery{Table: "document_chunk", TextColumn: "text", Vector: vec, Filter: map[string]any{"lang": "en"}}, false},
		{"unknown table", VectorQuery{Table: "users", TextColumn: "content", Vector: vec}, true},
		{"wrong column", VectorQuery{Table: "chat_history", TextColumn: "text", Vector: vec}, true},
		{"injection in column", VectorQuery{Table: "chat_history", TextColumn: "content; DROP", Vector: vec}, true},
		{"empty vector", VectorQuery{Table: "chat_history", TextColumn: "content"}, true},
		{"bad filter key", VectorQuery{Table: "document_chunk", TextColumn: "text", Vector: vec, Filter: map[string]any{"a'b": 1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVectorQuery(tt.q)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
