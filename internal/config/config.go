// Package config reads service configuration from the environment, optionally
// seeded from a local .env file.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends accepted by STORE_BACKEND.
const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
)

type Config struct {
	ProjectID string

	StoreBackend         string
	DatabaseURL          string
	FirestoreDatabase    string
	IdentitiesCollection string
	DocumentsCollection  string

	SourceBucket     string
	ArtifactRoot     string
	WorkflowID       string
	WorkflowLocation string

	PrivilegedEmails []string
	DefaultQuota     int

	SessionSecret   string
	SessionTTL      time.Duration
	GoogleClientID  string
	AssertionSecret string
	CallbackToken   string

	RedisAddr       string
	LoginRateLimit  int
	LoginRateWindow time.Duration
	TrustedProxies  []*net.IPNet

	MaxUploadBytes int64
	SecureCookies  bool
}

// Load reads and validates the configuration of the HTTP API. A missing .env
// file is not an error.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadListener reads the configuration of the status listener, which needs
// storage but no session or assertion settings.
func LoadListener() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ProjectID: GetEnv("PROJECT_ID", ""),

		StoreBackend:         strings.ToLower(GetEnv("STORE_BACKEND", BackendFirestore)),
		DatabaseURL:          GetEnv("DATABASE_URL", ""),
		FirestoreDatabase:    GetEnv("FIRESTORE_DATABASE", ""),
		IdentitiesCollection: GetEnv("FIRESTORE_IDENTITIES_COLLECTION", "identities"),
		DocumentsCollection:  GetEnv("FIRESTORE_DOCUMENTS_COLLECTION", "documents"),

		SourceBucket:     GetEnv("SOURCE_BUCKET", ""),
		ArtifactRoot:     GetEnv("ARTIFACT_ROOT", ""),
		WorkflowID:       GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation: GetEnv("WORKFLOW_LOCATION", "us-central1"),

		PrivilegedEmails: GetEnvList("PRIVILEGED_EMAILS"),
		DefaultQuota:     GetEnvInt("DEFAULT_QUOTA", 3),

		SessionSecret:   GetEnv("SESSION_SECRET", ""),
		SessionTTL:      GetEnvDuration("SESSION_TTL", 12*time.Hour),
		GoogleClientID:  GetEnv("GOOGLE_CLIENT_ID", ""),
		AssertionSecret: GetEnv("ASSERTION_SECRET", ""),
		CallbackToken:   GetEnv("CALLBACK_TOKEN", ""),

		RedisAddr:       GetEnv("REDIS_ADDR", ""),
		LoginRateLimit:  GetEnvInt("LOGIN_RATE_LIMIT", 20),
		LoginRateWindow: GetEnvDuration("LOGIN_RATE_WINDOW", time.Minute),

		MaxUploadBytes: int64(GetEnvInt("MAX_UPLOAD_BYTES", 50<<20)),
		SecureCookies:  GetEnv("SECURE_COOKIES", "true") != "false",
	}
	proxies, err := ParseCIDRs(GetEnv("TRUSTED_PROXY_CIDRS", ""))
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxies = proxies
	return cfg, nil
}

// ValidateStorage checks the settings shared by every entry point: the store
// backend and where artifacts live.
func (c *Config) ValidateStorage() error {
	switch c.StoreBackend {
	case BackendFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID must be set for the firestore backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.SourceBucket == "" && c.ArtifactRoot == "" {
		return fmt.Errorf("one of SOURCE_BUCKET or ARTIFACT_ROOT must be set")
	}
	return nil
}

// Validate reports the first inconsistency in cfg.
func (c *Config) Validate() error {
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes")
	}
	if c.GoogleClientID == "" && c.AssertionSecret == "" {
		return fmt.Errorf("one of GOOGLE_CLIENT_ID or ASSERTION_SECRET must be set")
	}
	if c.DefaultQuota < 0 {
		return fmt.Errorf("DEFAULT_QUOTA must not be negative, got %d", c.DefaultQuota)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func GetEnvInt(key string, fallback int) int {
	if value := GetEnv(key, ""); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := GetEnv(key, ""); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// GetEnvList splits a comma separated variable, dropping blanks.
func GetEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(GetEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseCIDRs reads a comma separated list of CIDRs. A bare address is taken
// as a single-host network.
func ParseCIDRs(raw string) ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			_, cidr, err := net.ParseCIDR(part)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXY_CIDRS entry %q: %w", part, err)
			}
			out = append(out, cidr)
			continue
		}
		ip := net.ParseIP(part)
		if ip == nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXY_CIDRS entry %q", part)
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return out, nil
}
