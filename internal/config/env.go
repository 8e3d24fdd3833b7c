package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvAPIBaseURL     = "CHAT_API_URL"
	EnvSocketURL      = "CHAT_SOCKET_URL"
	EnvUploadEndpoint = "CHAT_UPLOAD_ENDPOINT"
	EnvUploadPreset   = "CHAT_UPLOAD_PRESET"
	EnvLogLevel       = "CHAT_LOG_LEVEL"
	EnvQueueCapacity  = "CHAT_QUEUE_CAPACITY"
	EnvQueueOverflow  = "CHAT_QUEUE_OVERFLOW"
	EnvUserID         = "CHAT_USER_ID"
	EnvAuthToken      = "CHAT_AUTH_TOKEN"
)

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}

	return nil
}

// ApplyEnv overlays CHAT_* environment variables on top of cfg.
func (c *AppConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if v, ok := lookupTrimmed(lookup, EnvAPIBaseURL); ok {
		c.Backend.APIBaseURL = v
	}
	if v, ok := lookupTrimmed(lookup, EnvSocketURL); ok {
		c.Backend.SocketURL = v
	}
	if v, ok := lookupTrimmed(lookup, EnvUploadEndpoint); ok {
		c.Upload.Endpoint = v
	}
	if v, ok := lookupTrimmed(lookup, EnvUploadPreset); ok {
		c.Upload.UploadPreset = v
	}
	if v, ok := lookupTrimmed(lookup, EnvLogLevel); ok {
		c.Logging.Level = v
	}
	if v, ok := lookupTrimmed(lookup, EnvQueueCapacity); ok {
		capacity, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvQueueCapacity, err)
		}
		c.Transport.QueueCapacity = capacity
	}
	if v, ok := lookupTrimmed(lookup, EnvQueueOverflow); ok {
		c.Transport.QueueOverflow = QueueOverflowPolicy(v)
	}

	c.FillMissingDefaults()

	return nil
}

// Credentials holds the session identity supplied by the host application.
type Credentials struct {
	UserID string
	Token  string
}

func CredentialsFromEnv(lookup func(string) (string, bool)) Credentials {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	userID, _ := lookupTrimmed(lookup, EnvUserID)
	token, _ := lookupTrimmed(lookup, EnvAuthToken)

	return Credentials{UserID: userID, Token: token}
}

func lookupTrimmed(lookup func(string) (string, bool), key string) (string, bool) {
	v, ok := lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}

	return v, true
}
