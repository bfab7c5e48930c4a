package config

import (
	"encoding/base64"
	"fmt"
	"strings"
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	UnlockCodeHash string
	MediaDir       string
	AllowedOrigins []string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret, unlockCodeHash, mediaDir string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if unlockCodeHash == "" {
		return nil, fmt.Errorf("unlock code hash cannot be empty")
	}
	if !strings.HasPrefix(unlockCodeHash, "$2") {
		return nil, fmt.Errorf("unlock code hash must be a bcrypt hash")
	}
	if mediaDir == "" {
		return nil, fmt.Errorf("media directory cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		UnlockCodeHash: unlockCodeHash,
		MediaDir:       mediaDir,
		AllowedOrigins: allowedOrigins,
	}, nil
}
