// Package config holds the quarry runtime settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds all quarry configuration. A Settings value is immutable
// once published; runtime reconfiguration replaces the whole record via
// the Manager.
type Settings struct {
	// Storage
	DBPath    string `yaml:"db_path"`
	UploadDir string `yaml:"upload_dir"`

	// Web search / scraping
	BraveAPIKey      string  `yaml:"brave_api_key"`
	MaxSearchResults int     `yaml:"max_search_results"`
	RequestTimeout   string  `yaml:"request_timeout"`
	MaxCharsPerSrc   int     `yaml:"max_chars_per_source"`
	WebTopK          int     `yaml:"web_top_k"`
	WebMaxChars      int     `yaml:"web_max_chars"`
	WebBudgetFrac    float64 `yaml:"web_budget_fraction"`

	// Offline archive
	OfflineRetrievalMode string `yaml:"offline_retrieval_mode"` // keyword, semantic

	// Documents
	MaxUploadMB     int `yaml:"max_upload_mb"`
	DocSemanticTopK int `yaml:"doc_semantic_top_k"`
	DocKeywordTopK  int `yaml:"doc_keyword_top_k"`
	DocMaxChars     int `yaml:"doc_max_chars"` // 0 = no per-chunk cap

	// Context assembly
	TotalContextBudget int `yaml:"total_context_budget"`

	// Tabular analytics
	EnableTabularAnalytics bool `yaml:"enable_tabular_analytics"`
	GroupByTopNDefault     int  `yaml:"analytics_groupby_top_n_default"`

	// LLM
	LLM LLMSettings `yaml:"llm"`

	// Embeddings
	Embedding EmbeddingSettings `yaml:"embedding"`

	// HTTP surface
	ListenAddr string `yaml:"listen_addr"`

	// Logging (read separately by the logging package; kept here so one
	// file round-trips).
	Logging LoggingSettings `yaml:"logging"`
}

// LLMSettings configures the completion backend.
type LLMSettings struct {
	Provider string `yaml:"provider"` // openai, gemini, ollama
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingSettings configures the embedding backend.
type EmbeddingSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // gemini, ollama
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

// LoggingSettings mirrors the logging package's config section.
type LoggingSettings struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultSettings returns the default configuration.
func DefaultSettings() *Settings {
	return &Settings{
		DBPath:    "knowledge.db",
		UploadDir: "uploads",

		MaxSearchResults: 3,
		RequestTimeout:   "10s",
		MaxCharsPerSrc:   2000,
		WebTopK:          3,
		WebMaxChars:      2000,
		WebBudgetFrac:    0.4,

		OfflineRetrievalMode: "keyword",

		MaxUploadMB:     25,
		DocSemanticTopK: 12,
		DocKeywordTopK:  20,
		DocMaxChars:     0,

		TotalContextBudget: 14000,

		EnableTabularAnalytics: true,
		GroupByTopNDefault:     50,

		LLM: LLMSettings{
			Provider: "openai",
			BaseURL:  "https://api.openai.com/v1",
			Model:    "gpt-4o-mini",
			Timeout:  "60s",
		},

		Embedding: EmbeddingSettings{
			Enabled:  false,
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Model:    "nomic-embed-text",
		},

		ListenAddr: ":8080",

		Logging: LoggingSettings{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, applying defaults and
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	cfg := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the settings to a YAML file.
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (s *Settings) applyEnvOverrides() {
	if v := os.Getenv("QUARRY_DB"); v != "" {
		s.DBPath = v
	}
	if v := os.Getenv("BRAVE_API_KEY"); v != "" {
		s.BraveAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		s.LLM.APIKey = v
		if s.LLM.Provider == "" {
			s.LLM.Provider = "openai"
		}
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		s.LLM.APIKey = v
		s.LLM.Provider = "gemini"
		if s.Embedding.APIKey == "" {
			s.Embedding.APIKey = v
		}
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		s.Embedding.BaseURL = v
	}
}

// View returns the runtime-tunable settings as a flat map. The keys
// mirror what the settings update endpoint accepts.
func (s *Settings) View() map[string]any {
	return map[string]any{
		"max_search_results":              s.MaxSearchResults,
		"offline_retrieval_mode":          s.OfflineRetrievalMode,
		"request_timeout":                 s.RequestTimeout,
		"max_chars_per_source":            s.MaxCharsPerSrc,
		"web_top_k":                       s.WebTopK,
		"doc_semantic_top_k":              s.DocSemanticTopK,
		"doc_keyword_top_k":               s.DocKeywordTopK,
		"web_max_chars":                   s.WebMaxChars,
		"doc_max_chars":                   s.DocMaxChars,
		"total_context_budget":            s.TotalContextBudget,
		"web_budget_fraction":             s.WebBudgetFrac,
		"enable_tabular_analytics":        s.EnableTabularAnalytics,
		"analytics_groupby_top_n_default": s.GroupByTopNDefault,
	}
}

// GetRequestTimeout returns the per-call HTTP timeout as a duration.
func (s *Settings) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetTimeout returns the LLM timeout as a duration.
func (l *LLMSettings) GetTimeout() time.Duration {
	d, err := time.ParseDuration(l.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (s *Settings) GetLLMTimeout() time.Duration {
	return s.LLM.GetTimeout()
}
