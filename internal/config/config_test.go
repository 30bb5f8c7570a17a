package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningSecret = "dGVzdC1zaWduaW5nLWtleQ=="

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig("localhost:8000", "mongodb://localhost:27017", "chatserver", testSigningSecret, []string{"http://localhost:3000"})
	require.NoError(t, err)

	assert.Equal(t, "localhost:8000", cfg.ServerAddr)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	assert.Equal(t, "chatserver", cfg.DatabaseName)
	assert.Equal(t, []byte("test-signing-key"), cfg.SigningKey)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)

	assert.Equal(t, DefaultReconcileInterval, cfg.ReconcileInterval)
	assert.Equal(t, DefaultMembershipCacheTTL, cfg.MembershipCacheTTL)
	assert.Equal(t, DefaultMembershipTimeout, cfg.MembershipTimeout)
	assert.Equal(t, DefaultIdleSessionTimeout, cfg.IdleSessionTimeout)
	assert.False(t, cfg.SuppressEcho)
}

func TestNewConfigValidation(t *testing.T) {
	tt := []struct {
		name   string
		addr   string
		uri    string
		dbName string
		secret string
	}{
		{"empty address", "", "mongodb://localhost:27017", "chatserver", testSigningSecret},
		{"empty mongo URI", "localhost:8000", "", "chatserver", testSigningSecret},
		{"empty database name", "localhost:8000", "mongodb://localhost:27017", "", testSigningSecret},
		{"empty signing secret", "localhost:8000", "mongodb://localhost:27017", "chatserver", ""},
		{"malformed signing secret", "localhost:8000", "mongodb://localhost:27017", "chatserver", "not-base64!"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewConfig(tc.addr, tc.uri, tc.dbName, tc.secret, nil)
			assert.Error(t, err)
		})
	}
}
