package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultVATRate — ставка НДС (TVA) в процентах, применяется к счетам.
const DefaultVATRate = 7.7

type Config struct {
	AppHost  string
	HTTPPort string
	AppEnv   string
	LogLevel string

	// PublicURL — внешний адрес сервиса, из него строится callback_url для транскрипции.
	PublicURL string

	// WebhookSecret — общий секрет с платформой автоматизации (Authorization: Bearer ...).
	WebhookSecret string
	// JWTSecret подписывает токены операторов (admin, secretary, technician).
	JWTSecret string

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}

	Automation AutomationConfig
	S3         S3Config
	Kafka      KafkaConfig
	Telegram   TelegramConfig
	Billing    BillingConfig

	// StaffEmailDomains — домены адресов техников в приглашениях календаря.
	StaffEmailDomains []string
}

type AutomationConfig struct {
	BaseURL       string
	PDFPath       string
	TranscribeURL string
	Timeout       time.Duration
}

type S3Config struct {
	Region        string
	Bucket        string
	PublicBaseURL string
	Endpoint      string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

type BillingConfig struct {
	VATRate     float64
	OverdueDays int
}

// fileConfig — опциональный YAML-оверлей (configs/config.yaml).
type fileConfig struct {
	StaffEmailDomains []string `yaml:"staff_email_domains"`
	Billing           struct {
		VATRate     float64 `yaml:"vat_rate"`
		OverdueDays int     `yaml:"overdue_days"`
	} `yaml:"billing"`
	Automation struct {
		BaseURL       string `yaml:"base_url"`
		PDFPath       string `yaml:"pdf_path"`
		TranscribeURL string `yaml:"transcribe_url"`
	} `yaml:"automation"`
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:       getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:      firstEnv("APP_PORT", "HTTP_PORT", "8098"),
		AppEnv:        getEnv("APP_ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicURL:     strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:8098"), "/"),
		WebhookSecret: firstEnv("WEBHOOK_SECRET", "N8N_WEBHOOK_SECRET", ""),
		JWTSecret:     getEnv("JWT_SECRET", ""),
	}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "intervention_service")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Automation = AutomationConfig{
		PDFPath: "/webhook/report-pdf",
		Timeout: 15 * time.Second,
	}
	cfg.Billing = BillingConfig{VATRate: DefaultVATRate, OverdueDays: 30}
	cfg.StaffEmailDomains = []string{"richoz-sanitaire.ch", "richoz.ch"}

	if err := cfg.applyFile(getEnv("CONFIG_FILE", "configs/config.yaml")); err != nil {
		return nil, err
	}

	if v := os.Getenv("AUTOMATION_BASE_URL"); v != "" {
		cfg.Automation.BaseURL = v
	}
	if v := os.Getenv("AUTOMATION_PDF_PATH"); v != "" {
		cfg.Automation.PDFPath = v
	}
	if v := firstEnv("AUTOMATION_TRANSCRIBE_URL", "N8N_TRANSCRIBE_WEBHOOK_URL", ""); v != "" {
		cfg.Automation.TranscribeURL = v
	}
	if v := os.Getenv("AUTOMATION_TIMEOUT_SECONDS"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("config: invalid AUTOMATION_TIMEOUT_SECONDS %q", v)
		}
		cfg.Automation.Timeout = time.Duration(sec) * time.Second
	}

	cfg.S3 = S3Config{
		Region:        getEnv("AWS_REGION", "eu-central-2"),
		Bucket:        getEnv("S3_BUCKET", ""),
		PublicBaseURL: strings.TrimRight(getEnv("S3_PUBLIC_BASE_URL", ""), "/"),
		Endpoint:      getEnv("AWS_ENDPOINT_URL", ""),
	}
	cfg.Kafka = KafkaConfig{
		Brokers: ParseList(getEnv("KAFKA_BROKERS", "")),
		Topic:   getEnv("KAFKA_TOPIC_EVENTS", "interventions.events"),
	}

	cfg.Telegram.Token = getEnv("TELEGRAM_BOT_TOKEN", "")
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}

	if v := os.Getenv("STAFF_EMAIL_DOMAINS"); v != "" {
		cfg.StaffEmailDomains = ParseList(v)
	}
	if v := os.Getenv("VAT_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid VAT_RATE: %w", err)
		}
		cfg.Billing.VATRate = rate
	}
	if v := os.Getenv("INVOICE_OVERDUE_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid INVOICE_OVERDUE_DAYS: %w", err)
		}
		cfg.Billing.OverdueDays = days
	}
	return cfg, nil
}

// applyFile накладывает YAML поверх дефолтов. Отсутствие файла не ошибка.
func (c *Config) applyFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(fc.StaffEmailDomains) > 0 {
		c.StaffEmailDomains = fc.StaffEmailDomains
	}
	if fc.Billing.VATRate > 0 {
		c.Billing.VATRate = fc.Billing.VATRate
	}
	if fc.Billing.OverdueDays > 0 {
		c.Billing.OverdueDays = fc.Billing.OverdueDays
	}
	if fc.Automation.BaseURL != "" {
		c.Automation.BaseURL = fc.Automation.BaseURL
	}
	if fc.Automation.PDFPath != "" {
		c.Automation.PDFPath = fc.Automation.PDFPath
	}
	if fc.Automation.TranscribeURL != "" {
		c.Automation.TranscribeURL = fc.Automation.TranscribeURL
	}
	return nil
}

func (c *Config) Validate() error {
	if c.DB.Host == "" || c.DB.Database == "" {
		return errors.New("config: DB_HOST and DB_DATABASE are required")
	}
	if c.AppEnv == "production" {
		if c.DB.Password == "" {
			return errors.New("config: in production DB_PASSWORD is required")
		}
		if c.WebhookSecret == "" {
			return errors.New("config: in production WEBHOOK_SECRET is required")
		}
		if c.JWTSecret == "" {
			return errors.New("config: in production JWT_SECRET is required")
		}
	}
	if c.Billing.VATRate < 0 || c.Billing.VATRate >= 100 {
		return fmt.Errorf("config: VAT rate %.2f out of range", c.Billing.VATRate)
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

// ParseList разбивает "a, b,c" на слайс без пустых элементов.
func ParseList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
