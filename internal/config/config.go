// Package config loads the module's runtime configuration: a nested
// struct with mapstructure tags, viper+godotenv loading, multi-
// candidate env resolution, and a process-wide Load/Get/Reset
// singleton.
package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LLMConfig configures the language-model client shared by enrichment,
// grouping arbitration, merging, and trend synthesis.
type LLMConfig struct {
	APIKey           string  `mapstructure:"api_key"`
	Model            string  `mapstructure:"model"`
	ArbitrationModel string  `mapstructure:"arbitration_model"`
	MergeModel       string  `mapstructure:"merge_model"`
	Temperature      float32 `mapstructure:"temperature"`
}

// StoreConfig configures the Store.
type StoreConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// ScheduleConfig configures the orchestrator's run interval.
type ScheduleConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// GroupingConfig configures the Grouping Coordinator's dynamic
// threshold, ambiguity zone, and pacing.
type GroupingConfig struct {
	BaseThreshold        float64            `mapstructure:"base_threshold"`
	CategoryAdjust       map[string]float64 `mapstructure:"category_adjust"`
	SizeBreakpoints      []int              `mapstructure:"size_breakpoints"`
	SizeAdjustments      []float64          `mapstructure:"size_adjustments"`
	ThresholdMin         float64            `mapstructure:"threshold_min"`
	ThresholdMax         float64            `mapstructure:"threshold_max"`
	AmbiguityZoneBelow   float64            `mapstructure:"ambiguity_zone_below"`
	AmbiguityZoneAbove   float64            `mapstructure:"ambiguity_zone_above"`
	MaxScoreGapAmbiguous float64            `mapstructure:"max_score_gap_ambiguous"`
	EnableLLMArbitration bool               `mapstructure:"enable_llm_arbitration"`
	BatchDelaySeconds    float64            `mapstructure:"batch_delay_seconds"`
}

// MergeConfig configures the Merger.
type MergeConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

// TrendConfig configures the Trend Synthesizer.
type TrendConfig struct {
	WindowHours int `mapstructure:"window_hours"`
	MinTrends   int `mapstructure:"min_trends"`
}

// EnrichConfig configures the Enricher.
type EnrichConfig struct {
	TokenBudget    int `mapstructure:"token_budget"`
	CVERefreshDays int `mapstructure:"cve_refresh_days"`
}

// HTTPConfig configures outbound HTTP behavior (CVE service, scrape
// intake).
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxRetries     int `mapstructure:"max_retries"`
}

// ServerConfig configures the read-only Web API.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Config is the full process configuration, threaded explicitly
// through every constructor rather than consulted as a hidden global
// deep in call stacks; Load/Get provide one process-wide value for
// callers that need it that way.
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	Store    StoreConfig    `mapstructure:"store"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Grouping GroupingConfig `mapstructure:"grouping"`
	Merge    MergeConfig    `mapstructure:"merge"`
	Trend    TrendConfig    `mapstructure:"trend"`
	Enrich   EnrichConfig   `mapstructure:"enrich"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Server   ServerConfig   `mapstructure:"server"`
	Debug    bool           `mapstructure:"debug"`
}

var (
	globalConfig *Config
	mu           sync.Mutex
)

// Load reads configuration from an optional config file, environment
// variables, and a .env file (if present), applying defaults for
// anything unset.
func Load(configFile string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	bindEnvironmentVariables(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return globalConfig, nil
}

// Get returns the process-wide config, loading defaults if Load was
// never called.
func Get() *Config {
	mu.Lock()
	defer mu.Unlock()
	if globalConfig == nil {
		cfg, err := loadDefaultsOnly()
		if err != nil {
			// setDefaults/Unmarshal cannot fail with no config file
			// and no env; this is unreachable in practice.
			panic(fmt.Sprintf("config: unexpected default-load failure: %v", err))
		}
		globalConfig = cfg
	}
	return globalConfig
}

func loadDefaultsOnly() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnvironmentVariables(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Reset clears the singleton so tests can Load a fresh config.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.model", "gemini-flash-lite-latest")
	v.SetDefault("llm.arbitration_model", "gemini-flash-lite-latest")
	v.SetDefault("llm.merge_model", "gemini-flash-lite-latest")
	v.SetDefault("llm.temperature", float32(0.3))

	v.SetDefault("store.db_path", "db/news.db")

	v.SetDefault("schedule.interval_minutes", 15)

	v.SetDefault("grouping.base_threshold", 0.40)
	v.SetDefault("grouping.category_adjust", map[string]float64{
		"Cybersecurity & Data Privacy":                0.05,
		"Artificial Intelligence & Machine Learning": 0.03,
		"Other": -0.03,
	})
	v.SetDefault("grouping.size_breakpoints", []int{1, 5, 10})
	v.SetDefault("grouping.size_adjustments", []float64{0.05, 0.0, -0.03, -0.05})
	v.SetDefault("grouping.threshold_min", 0.10)
	v.SetDefault("grouping.threshold_max", 0.90)
	v.SetDefault("grouping.ambiguity_zone_below", 0.10)
	v.SetDefault("grouping.ambiguity_zone_above", 0.05)
	v.SetDefault("grouping.max_score_gap_ambiguous", 0.08)
	v.SetDefault("grouping.enable_llm_arbitration", true)
	v.SetDefault("grouping.batch_delay_seconds", 0.2)

	v.SetDefault("merge.threshold", 0.60)

	v.SetDefault("trend.window_hours", 48)
	v.SetDefault("trend.min_trends", 6)

	v.SetDefault("enrich.token_budget", 150000)
	v.SetDefault("enrich.cve_refresh_days", 7)

	v.SetDefault("http.timeout_seconds", 12)
	v.SetDefault("http.max_retries", 3)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("debug", false)
}

// bindEnvKeys tries each candidate env var name in order (some
// deployments set GEMINI_API_KEY, others GOOGLE_GEMINI_API_KEY, etc).
func bindEnvKeys(v *viper.Viper, viperKey string, envKeys []string) {
	for _, k := range envKeys {
		_ = v.BindEnv(viperKey, k)
	}
}

func bindEnvironmentVariables(v *viper.Viper) {
	bindEnvKeys(v, "llm.api_key", []string{
		"GEMINI_API_KEY", "GOOGLE_GEMINI_API_KEY", "GOOGLE_AI_API_KEY",
	})
	bindEnvKeys(v, "llm.model", []string{"LLM_MODEL"})
	bindEnvKeys(v, "schedule.interval_minutes", []string{"SCHEDULE_INTERVAL_MINUTES"})
	bindEnvKeys(v, "store.db_path", []string{"NEWSGROUPING_DB_PATH", "DB_PATH"})
	bindEnvKeys(v, "server.port", []string{"PORT", "SERVER_PORT"})
	bindEnvKeys(v, "debug", []string{"DEBUG"})
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
}

func validate(cfg *Config) error {
	if cfg.Store.DBPath == "" {
		return fmt.Errorf("config: store.db_path must not be empty")
	}
	if cfg.Schedule.IntervalMinutes <= 0 {
		return fmt.Errorf("config: schedule.interval_minutes must be positive")
	}
	if len(cfg.Grouping.SizeAdjustments) != len(cfg.Grouping.SizeBreakpoints)+1 {
		return fmt.Errorf("config: grouping.size_adjustments must have one more entry than size_breakpoints")
	}
	return nil
}
