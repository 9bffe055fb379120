package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	// Index settings
	IndexPath string
	LogLevel  string

	// Sync settings
	SyncWindow        int
	SyncConcurrency   int
	KeepaliveInterval time.Duration
	DedupeFailOpen    bool

	// Reconnect policy
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int

	// Classifier settings
	ClassifierAPIKey  string
	ClassifierBaseURL string
	ClassifierModel   string
	ClassifierTimeout time.Duration

	// Notification settings
	WebhookURLs    []string
	WebhookTimeout time.Duration
	PublicBaseURL  string

	// Accounts
	Accounts []AccountConfig
}

// AccountConfig holds configuration for a single email account
type AccountConfig struct {
	Name string

	IMAPHost     string
	IMAPPort     int
	IMAPUsername string
	IMAPPassword string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		IndexPath:            getEnv("INDEX_PATH", "/data/mailsync.db"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		SyncWindow:           getEnvInt("SYNC_WINDOW", 50),
		SyncConcurrency:      getEnvInt("SYNC_CONCURRENCY", 4),
		KeepaliveInterval:    getEnvDuration("KEEPALIVE_INTERVAL", 29*time.Minute),
		DedupeFailOpen:       getEnvBool("DEDUPE_FAIL_OPEN", false),
		ReconnectBaseDelay:   getEnvDuration("RECONNECT_BASE_DELAY", 2*time.Second),
		ReconnectMaxDelay:    getEnvDuration("RECONNECT_MAX_DELAY", 5*time.Minute),
		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 10),
		ClassifierAPIKey:     getEnv("CLASSIFIER_API_KEY", ""),
		ClassifierBaseURL:    getEnv("CLASSIFIER_BASE_URL", "https://api.openai.com/v1"),
		ClassifierModel:      getEnv("CLASSIFIER_MODEL", "gpt-4o-mini"),
		ClassifierTimeout:    getEnvDuration("CLASSIFIER_TIMEOUT", 30*time.Second),
		WebhookURLs:          getEnvList("WEBHOOK_URLS"),
		WebhookTimeout:       getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		PublicBaseURL:        getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
	}

	accounts, err := loadAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no email accounts configured")
	}

	cfg.Accounts = accounts
	return cfg, nil
}

// loadAccounts loads email account configurations from environment variables
func loadAccounts() ([]AccountConfig, error) {
	var accounts []AccountConfig

	// Single account configuration (IMAP_HOST etc.) for dev setups
	if getEnv("IMAP_HOST", "") != "" {
		account, err := loadSingleAccount()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
		return accounts, nil
	}

	// Multiple accounts (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
	accountNum := 1
	for {
		account, err := loadAccountByNumber(accountNum)
		if err != nil {
			break // No more accounts
		}
		accounts = append(accounts, *account)
		accountNum++
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts found in environment variables")
	}

	return accounts, nil
}

// loadSingleAccount loads a single account from un-prefixed environment variables
func loadSingleAccount() (*AccountConfig, error) {
	imapHost := getEnv("IMAP_HOST", "")
	imapPort := getEnvInt("IMAP_PORT", 993)
	imapUsername := getEnv("IMAP_USERNAME", "")
	imapPassword := getEnv("IMAP_PASSWORD", "")

	if imapHost == "" {
		return nil, fmt.Errorf("IMAP_HOST is required")
	}
	if imapUsername == "" {
		return nil, fmt.Errorf("IMAP_USERNAME is required")
	}
	if imapPassword == "" {
		return nil, fmt.Errorf("IMAP_PASSWORD is required")
	}

	name := getEnv("ACCOUNT_NAME", "default")

	return &AccountConfig{
		Name:         name,
		IMAPHost:     imapHost,
		IMAPPort:     imapPort,
		IMAPUsername: imapUsername,
		IMAPPassword: imapPassword,
	}, nil
}

// loadAccountByNumber loads an account by number (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
func loadAccountByNumber(num int) (*AccountConfig, error) {
	prefix := fmt.Sprintf("ACCOUNT_%d_", num)

	name := getEnv(prefix+"NAME", "")
	if name == "" {
		return nil, fmt.Errorf("account %d: NAME is required", num)
	}

	imapHost := getEnv(prefix+"IMAP_HOST", "")
	imapPort := getEnvInt(prefix+"IMAP_PORT", 993)
	imapUsername := getEnv(prefix+"IMAP_USERNAME", "")
	imapPassword := getEnv(prefix+"IMAP_PASSWORD", "")

	if imapHost == "" {
		return nil, fmt.Errorf("account %d: IMAP_HOST is required", num)
	}
	if imapUsername == "" {
		return nil, fmt.Errorf("account %d: IMAP_USERNAME is required", num)
	}
	if imapPassword == "" {
		return nil, fmt.Errorf("account %d: IMAP_PASSWORD is required", num)
	}

	return &AccountConfig{
		Name:         name,
		IMAPHost:     imapHost,
		IMAPPort:     imapPort,
		IMAPUsername: imapUsername,
		IMAPPassword: imapPassword,
	}, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as a boolean or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a duration or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList gets a comma-separated environment variable as a list
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			items = append(items, part)
		}
	}
	return items
}

// GetAccountByName finds an account by name
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.IndexPath == "" {
		return fmt.Errorf("INDEX_PATH is required")
	}

	if c.SyncWindow < 1 || c.SyncWindow > 1000 {
		return fmt.Errorf("SYNC_WINDOW must be between 1 and 1000")
	}

	if c.SyncConcurrency < 1 || c.SyncConcurrency > 64 {
		return fmt.Errorf("SYNC_CONCURRENCY must be between 1 and 64")
	}

	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("RECONNECT_BASE_DELAY must be positive")
	}

	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("RECONNECT_MAX_DELAY must be >= RECONNECT_BASE_DELAY")
	}

	if c.ReconnectMaxAttempts < 1 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be at least 1")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	seen := make(map[string]bool)
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if seen[acc.Name] {
			return fmt.Errorf("duplicate account name: %s", acc.Name)
		}
		seen[acc.Name] = true
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: IMAP_HOST is required", acc.Name)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid IMAP_PORT", acc.Name)
		}
	}

	return nil
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}
