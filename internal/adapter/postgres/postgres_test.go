package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSSLMode(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"postgres://u:p@host/db?sslmode=require", "require"},
		{"postgres://u:p@host/db?sslmode=DISABLE", "disable"},
		{"postgres://u:p@host/db", "prefer (default)"},
		{"://bad", "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractSSLMode(tt.url), tt.url)
	}
}

func TestStatementKind(t *testing.T) {
	assert.Equal(t, "select", statementKind("\nSELECT tenant_key FROM tenant_credentials"))
	assert.Equal(t, "insert", statementKind("INSERT INTO x VALUES ($1)"))
	assert.Equal(t, "unknown", statementKind("   "))
}
