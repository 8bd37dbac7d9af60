package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPIICategories is the category list embedded in the detection prompt.
var DefaultPIICategories = []string{
	"names",
	"addresses",
	"phone numbers",
	"invoice numbers",
	"PO numbers",
	"customer IDs",
	"amounts",
	"dates",
}

// Config stores runtime configuration loaded from environment variables and an
// optional YAML overlay.
type Config struct {
	OpenAIKey      string
	OpenAIEndpoint string
	OpenAIModel    string
	LLMTimeout     time.Duration
	PIICategories  []string

	OCRLanguages   []string
	TessdataPrefix string

	StaticDir      string
	UploadDir      string
	Database       string
	Port           string
	MaxUploadBytes int64
	PDFDPI         int

	Matcher        string
	FailPolicy     string
	IsolateUploads bool

	LogLevel  string
	LogFormat string
}

// fileOverlay mirrors the keys accepted in CONFIG_FILE. Zero values leave the
// environment-derived setting untouched.
type fileOverlay struct {
	OpenAIModel    string   `yaml:"openai_model"`
	OpenAIEndpoint string   `yaml:"openai_endpoint"`
	LLMTimeout     string   `yaml:"llm_timeout"`
	PIICategories  []string `yaml:"pii_categories"`
	OCRLanguages   []string `yaml:"ocr_languages"`
	UploadDir      string   `yaml:"upload_dir"`
	Matcher        string   `yaml:"matcher"`
	FailPolicy     string   `yaml:"fail_policy"`
	IsolateUploads *bool    `yaml:"isolate_uploads"`
	PDFDPI         int      `yaml:"pdf_dpi"`
	LogLevel       string   `yaml:"log_level"`
}

// Load reads configuration from the environment, providing sensible defaults,
// and creates the directories the service writes to.
func Load() (Config, error) {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()

	cfg := Config{
		OpenAIKey:      firstEnv("API_KEY", "OPENAI_API_KEY"),
		OpenAIEndpoint: getEnv("OPENAI_API_ENDPOINT", "https://api.openai.com/v1"),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		LLMTimeout:     getDuration("LLM_TIMEOUT", 60*time.Second),
		PIICategories:  append([]string(nil), DefaultPIICategories...),
		OCRLanguages:   splitList(getEnv("OCR_LANGUAGES", "eng")),
		TessdataPrefix: os.Getenv("TESSDATA_PREFIX"),
		StaticDir:      getEnv("STATIC_DIR", "./static"),
		UploadDir:      getEnv("UPLOAD_DIR", "./static/masked"),
		Database:       getEnv("DATABASE_PATH", "./data/masks.db"),
		Port:           getEnv("PORT", "8080"),
		MaxUploadBytes: int64(getInt("MAX_UPLOAD_MB", 32)) << 20,
		PDFDPI:         getInt("PDF_DPI", 150),
		Matcher:        getEnv("MATCHER", "exact"),
		FailPolicy:     getEnv("FAIL_POLICY", "open"),
		IsolateUploads: getBool("ISOLATE_UPLOADS", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure upload dir %s: %w", cfg.UploadDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure database dir %s: %w", cfg.Database, err)
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if overlay.OpenAIModel != "" {
		c.OpenAIModel = overlay.OpenAIModel
	}
	if overlay.OpenAIEndpoint != "" {
		c.OpenAIEndpoint = overlay.OpenAIEndpoint
	}
	if overlay.LLMTimeout != "" {
		d, err := time.ParseDuration(overlay.LLMTimeout)
		if err != nil {
			return fmt.Errorf("parse llm_timeout %q: %w", overlay.LLMTimeout, err)
		}
		c.LLMTimeout = d
	}
	if len(overlay.PIICategories) > 0 {
		c.PIICategories = overlay.PIICategories
	}
	if len(overlay.OCRLanguages) > 0 {
		c.OCRLanguages = overlay.OCRLanguages
	}
	if overlay.UploadDir != "" {
		c.UploadDir = overlay.UploadDir
	}
	if overlay.Matcher != "" {
		c.Matcher = overlay.Matcher
	}
	if overlay.FailPolicy != "" {
		c.FailPolicy = overlay.FailPolicy
	}
	if overlay.IsolateUploads != nil {
		c.IsolateUploads = *overlay.IsolateUploads
	}
	if overlay.PDFDPI > 0 {
		c.PDFDPI = overlay.PDFDPI
	}
	if overlay.LogLevel != "" {
		c.LogLevel = overlay.LogLevel
	}
	return nil
}

// Validate checks if configuration is valid.
func (c *Config) Validate() error {
	switch c.Matcher {
	case "exact", "casefold", "fuzzy":
	default:
		return fmt.Errorf("MATCHER must be exact, casefold or fuzzy, got %q", c.Matcher)
	}
	switch c.FailPolicy {
	case "open", "closed":
	default:
		return fmt.Errorf("FAIL_POLICY must be open or closed, got %q", c.FailPolicy)
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	if c.PDFDPI < 36 || c.PDFDPI > 1200 {
		return fmt.Errorf("PDF_DPI must be between 36 and 1200, got %d", c.PDFDPI)
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	val, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return val
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return val
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '+' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MaskedURLPrefix is the public URL path of UploadDir. When UploadDir lives
// under StaticDir it is served by the /static/ handler; otherwise the server
// mounts it on its own at /masked/.
func (c Config) MaskedURLPrefix() string {
	rel, err := filepath.Rel(c.StaticDir, c.UploadDir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "/masked/"
	}
	return "/static/" + filepath.ToSlash(rel) + "/"
}
