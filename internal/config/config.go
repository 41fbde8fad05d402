package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	StorageMemory     = "memory"
	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
)

// Config is the resolved runtime configuration of the invoice pipeline
type Config struct {
	HTTPPort    int
	Debug       bool
	CORSOrigins []string

	DatabaseURL  string
	MaxDBConns   int
	FixturesPath string
	SeedDemo     bool

	RedisURL string

	KafkaBrokers []string
	KafkaTopic   string

	StorageBackend string
	Bucket         string
	MaxFileSize    int64
	URLTTL         time.Duration
	FilesDir       string
	PublicBaseURL  string
	DownloadSecret string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Region       string
	S3UseSSL       bool

	SigningCertFile  string
	SigningKeyFile   string
	TrustedCertFiles []string

	DefaultCurrency string
	DefaultTaxRate  decimal.Decimal
	KnownTaxRates   []decimal.Decimal
	PaymentTerms    string
	Disclaimer      string

	GovernmentSuffixes []string
	FollowUpDelay      time.Duration
	MaxPINAttempts     int

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
}

// configFile mirrors the YAML layout of config.yaml
type configFile struct {
	Server struct {
		HTTPPort    int      `yaml:"http_port"`
		Debug       bool     `yaml:"debug"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Dependencies struct {
		PostgresURL  string   `yaml:"postgres_url"`
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
		Fixtures     string   `yaml:"fixtures"`
	} `yaml:"dependencies"`
	Storage struct {
		Backend       string `yaml:"backend"`
		Bucket        string `yaml:"bucket"`
		MaxFileSize   int64  `yaml:"max_file_size"`
		URLTTL        string `yaml:"url_ttl"`
		Dir           string `yaml:"dir"`
		PublicBaseURL string `yaml:"public_base_url"`
		S3            struct {
			Endpoint string `yaml:"endpoint"`
			Region   string `yaml:"region"`
			UseSSL   *bool  `yaml:"use_ssl"`
		} `yaml:"s3"`
	} `yaml:"storage"`
	Signing struct {
		CertFile string   `yaml:"cert_file"`
		KeyFile  string   `yaml:"key_file"`
		Trusted  []string `yaml:"trusted_certs"`
	} `yaml:"signing"`
	Invoice struct {
		Currency      string   `yaml:"currency"`
		TaxRate       string   `yaml:"tax_rate"`
		KnownTaxRates []string `yaml:"known_tax_rates"`
		PaymentTerms  string   `yaml:"payment_terms"`
		Disclaimer    string   `yaml:"disclaimer"`
	} `yaml:"invoice"`
	Delivery struct {
		GovernmentSuffixes []string `yaml:"government_suffixes"`
		FollowUpDelay      string   `yaml:"follow_up_delay"`
		MaxPINAttempts     int      `yaml:"max_pin_attempts"`
		SMTP               struct {
			Host string `yaml:"host"`
			Port int    `yaml:"port"`
			From string `yaml:"from"`
		} `yaml:"smtp"`
		Twilio struct {
			From string `yaml:"from"`
		} `yaml:"twilio"`
	} `yaml:"delivery"`
}

// Default returns the configuration used when nothing else is set
func Default() Config {
	return Config{
		HTTPPort:        8080,
		CORSOrigins:     []string{"*"},
		MaxDBConns:      10,
		SeedDemo:        true,
		KafkaTopic:      "invoice.audit",
		StorageBackend:  StorageMemory,
		Bucket:          "invoices",
		MaxFileSize:     10 << 20,
		URLTTL:          7 * 24 * time.Hour,
		FilesDir:        "./data/objects",
		PublicBaseURL:   "http://localhost:8080",
		S3Region:        "eu-central-1",
		S3UseSSL:        true,
		DefaultCurrency: "EUR",
		DefaultTaxRate:  decimal.NewFromInt(19),
		KnownTaxRates:   []decimal.Decimal{decimal.NewFromInt(19), decimal.NewFromInt(7), decimal.Zero},
		FollowUpDelay:   5 * time.Minute,
		MaxPINAttempts:  5,
		SMTPPort:        587,
	}
}

// Load resolves configuration in priority order: defaults, YAML file, .env,
// process environment. A missing file at path is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, fs.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyFile(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Server.HTTPPort > 0 {
		c.HTTPPort = f.Server.HTTPPort
	}
	c.Debug = c.Debug || f.Server.Debug
	if len(f.Server.CORSOrigins) > 0 {
		c.CORSOrigins = f.Server.CORSOrigins
	}
	if f.Dependencies.PostgresURL != "" {
		c.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		c.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		c.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Dependencies.KafkaTopic != "" {
		c.KafkaTopic = f.Dependencies.KafkaTopic
	}
	if f.Dependencies.Fixtures != "" {
		c.FixturesPath = f.Dependencies.Fixtures
	}
	if f.Storage.Backend != "" {
		c.StorageBackend = f.Storage.Backend
	}
	if f.Storage.Bucket != "" {
		c.Bucket = f.Storage.Bucket
	}
	if f.Storage.MaxFileSize > 0 {
		c.MaxFileSize = f.Storage.MaxFileSize
	}
	if f.Storage.URLTTL != "" {
		d, err := time.ParseDuration(f.Storage.URLTTL)
		if err != nil {
			return fmt.Errorf("storage.url_ttl: %w", err)
		}
		c.URLTTL = d
	}
	if f.Storage.Dir != "" {
		c.FilesDir = f.Storage.Dir
	}
	if f.Storage.PublicBaseURL != "" {
		c.PublicBaseURL = f.Storage.PublicBaseURL
	}
	if f.Storage.S3.Endpoint != "" {
		c.S3Endpoint = f.Storage.S3.Endpoint
	}
	if f.Storage.S3.Region != "" {
		c.S3Region = f.Storage.S3.Region
	}
	if f.Storage.S3.UseSSL != nil {
		c.S3UseSSL = *f.Storage.S3.UseSSL
	}
	if f.Signing.CertFile != "" {
		c.SigningCertFile = f.Signing.CertFile
	}
	if f.Signing.KeyFile != "" {
		c.SigningKeyFile = f.Signing.KeyFile
	}
	if len(f.Signing.Trusted) > 0 {
		c.TrustedCertFiles = f.Signing.Trusted
	}
	if f.Invoice.Currency != "" {
		c.DefaultCurrency = f.Invoice.Currency
	}
	if f.Invoice.TaxRate != "" {
		rate, err := decimal.NewFromString(f.Invoice.TaxRate)
		if err != nil {
			return fmt.Errorf("invoice.tax_rate: %w", err)
		}
		c.DefaultTaxRate = rate
	}
	if len(f.Invoice.KnownTaxRates) > 0 {
		rates, err := parseRates(f.Invoice.KnownTaxRates)
		if err != nil {
			return fmt.Errorf("invoice.known_tax_rates: %w", err)
		}
		c.KnownTaxRates = rates
	}
	if f.Invoice.PaymentTerms != "" {
		c.PaymentTerms = f.Invoice.PaymentTerms
	}
	if f.Invoice.Disclaimer != "" {
		c.Disclaimer = f.Invoice.Disclaimer
	}
	if len(f.Delivery.GovernmentSuffixes) > 0 {
		c.GovernmentSuffixes = f.Delivery.GovernmentSuffixes
	}
	if f.Delivery.FollowUpDelay != "" {
		d, err := time.ParseDuration(f.Delivery.FollowUpDelay)
		if err != nil {
			return fmt.Errorf("delivery.follow_up_delay: %w", err)
		}
		c.FollowUpDelay = d
	}
	if f.Delivery.MaxPINAttempts > 0 {
		c.MaxPINAttempts = f.Delivery.MaxPINAttempts
	}
	if f.Delivery.SMTP.Host != "" {
		c.SMTPHost = f.Delivery.SMTP.Host
	}
	if f.Delivery.SMTP.Port > 0 {
		c.SMTPPort = f.Delivery.SMTP.Port
	}
	if f.Delivery.SMTP.From != "" {
		c.SMTPFrom = f.Delivery.SMTP.From
	}
	if f.Delivery.Twilio.From != "" {
		c.TwilioFrom = f.Delivery.Twilio.From
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error

	c.HTTPPort = envInt("HTTP_PORT", c.HTTPPort)
	c.Debug = envBool("DEBUG", c.Debug)
	c.CORSOrigins = envCSV("CORS_ORIGINS", c.CORSOrigins)

	c.DatabaseURL = envOrDefault("DB_URL", c.DatabaseURL)
	c.MaxDBConns = envInt("DB_MAX_CONNS", c.MaxDBConns)
	c.FixturesPath = envOrDefault("FIXTURES", c.FixturesPath)
	c.SeedDemo = envBool("SEED_DEMO", c.SeedDemo)
	c.RedisURL = envOrDefault("REDIS_URL", c.RedisURL)
	c.KafkaBrokers = envCSV("KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaTopic = envOrDefault("KAFKA_TOPIC", c.KafkaTopic)

	c.StorageBackend = strings.ToLower(strings.TrimSpace(envOrDefault("STORAGE_BACKEND", c.StorageBackend)))
	c.Bucket = envOrDefault("STORAGE_BUCKET", c.Bucket)
	c.MaxFileSize = int64(envInt("STORAGE_MAX_FILE_SIZE", int(c.MaxFileSize)))
	if c.URLTTL, err = envDuration("STORAGE_URL_TTL", c.URLTTL); err != nil {
		return err
	}
	c.FilesDir = envOrDefault("STORAGE_DIR", c.FilesDir)
	c.PublicBaseURL = envOrDefault("PUBLIC_BASE_URL", c.PublicBaseURL)
	c.DownloadSecret = envOrDefault("DOWNLOAD_SECRET", c.DownloadSecret)
	c.S3Endpoint = envOrDefault("S3_ENDPOINT", c.S3Endpoint)
	c.S3AccessKey = envOrDefault("S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = envOrDefault("S3_SECRET_KEY", c.S3SecretKey)
	c.S3Region = envOrDefault("S3_REGION", c.S3Region)
	c.S3UseSSL = envBool("S3_USE_SSL", c.S3UseSSL)

	c.SigningCertFile = envOrDefault("SIGNING_CERT_FILE", c.SigningCertFile)
	c.SigningKeyFile = envOrDefault("SIGNING_KEY_FILE", c.SigningKeyFile)
	c.TrustedCertFiles = envCSV("TRUSTED_CERT_FILES", c.TrustedCertFiles)

	c.DefaultCurrency = strings.ToUpper(envOrDefault("DEFAULT_CURRENCY", c.DefaultCurrency))
	if raw := envOrDefault("DEFAULT_TAX_RATE", ""); raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("INVOICE_DEFAULT_TAX_RATE: %w", err)
		}
		c.DefaultTaxRate = rate
	}
	if raw := envCSV("KNOWN_TAX_RATES", nil); len(raw) > 0 {
		rates, err := parseRates(raw)
		if err != nil {
			return fmt.Errorf("INVOICE_KNOWN_TAX_RATES: %w", err)
		}
		c.KnownTaxRates = rates
	}
	c.Disclaimer = envOrDefault("DISCLAIMER", c.Disclaimer)

	c.GovernmentSuffixes = envCSV("GOVERNMENT_SUFFIXES", c.GovernmentSuffixes)
	if c.FollowUpDelay, err = envDuration("FOLLOW_UP_DELAY", c.FollowUpDelay); err != nil {
		return err
	}
	c.MaxPINAttempts = envInt("MAX_PIN_ATTEMPTS", c.MaxPINAttempts)

	c.SMTPHost = envOrDefault("SMTP_HOST", c.SMTPHost)
	c.SMTPPort = envInt("SMTP_PORT", c.SMTPPort)
	c.SMTPUsername = envOrDefault("SMTP_USERNAME", c.SMTPUsername)
	c.SMTPPassword = envOrDefault("SMTP_PASSWORD", c.SMTPPassword)
	c.SMTPFrom = envOrDefault("SMTP_FROM", c.SMTPFrom)

	c.TwilioAccountSID = envOrDefault("TWILIO_ACCOUNT_SID", c.TwilioAccountSID)
	c.TwilioAuthToken = envOrDefault("TWILIO_AUTH_TOKEN", c.TwilioAuthToken)
	c.TwilioFrom = envOrDefault("TWILIO_FROM", c.TwilioFrom)
	return nil
}

// Validate checks combinations that cannot work at runtime
func (c Config) Validate() error {
	switch c.StorageBackend {
	case StorageMemory:
	case StorageFilesystem:
		if len(c.DownloadSecret) < 32 {
			return fmt.Errorf("filesystem storage needs INVOICE_DOWNLOAD_SECRET of at least 32 bytes")
		}
	case StorageS3:
		if c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("s3 storage needs endpoint, access key and secret key")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if (c.SigningCertFile == "") != (c.SigningKeyFile == "") {
		return fmt.Errorf("signing needs both a certificate and a key file")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive")
	}
	if c.URLTTL <= 0 || c.FollowUpDelay <= 0 {
		return fmt.Errorf("url ttl and follow-up delay must be positive")
	}
	if c.DefaultTaxRate.IsNegative() {
		return fmt.Errorf("default tax rate must not be negative")
	}
	return nil
}

// Address returns the HTTP listen address
func (c Config) Address() string {
	return ":" + strconv.Itoa(c.HTTPPort)
}

const envPrefix = "INVOICE_"

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func envCSV(key string, fallback []string) []string {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return d, nil
}

func parseRates(raw []string) ([]decimal.Decimal, error) {
	rates := make([]decimal.Decimal, 0, len(raw))
	for _, r := range raw {
		d, err := decimal.NewFromString(strings.TrimSpace(r))
		if err != nil {
			return nil, err
		}
		rates = append(rates, d)
	}
	return rates, nil
}
