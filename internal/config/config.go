package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	DefaultReconcileInterval  = 5 * time.Second
	DefaultMembershipCacheTTL = 30 * time.Second
	DefaultMembershipTimeout  = 3 * time.Second
	DefaultIdleSessionTimeout = 5 * time.Minute
)

type Config struct {
	ServerAddr         string
	MongoURI           string
	DatabaseName       string
	SigningKey         []byte
	AllowedOrigins     []string
	ReconcileInterval  time.Duration
	MembershipCacheTTL time.Duration
	MembershipTimeout  time.Duration
	IdleSessionTimeout time.Duration
	// SuppressEcho excludes the sender's own sessions from group
	// fan-out. Off by default so multi-device clients stay in sync.
	SuppressEcho bool
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, mongoURI, dbName, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if mongoURI == "" {
		return nil, fmt.Errorf("mongo URI cannot be empty")
	}
	if dbName == "" {
		return nil, fmt.Errorf("database name cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:         serverAddr,
		MongoURI:           mongoURI,
		DatabaseName:       dbName,
		SigningKey:         signingKey,
		AllowedOrigins:     allowedOrigins,
		ReconcileInterval:  DefaultReconcileInterval,
		MembershipCacheTTL: DefaultMembershipCacheTTL,
		MembershipTimeout:  DefaultMembershipTimeout,
		IdleSessionTimeout: DefaultIdleSessionTimeout,
	}, nil
}
