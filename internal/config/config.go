// Package config resolves memengine configuration.
//
// Values come from, in increasing priority: built-in defaults, an optional
// YAML config file, MEMENGINE_* environment variables, and command-line
// flags bound by the CLI. Keys are dotted (e.g. "decay.threshold_days")
// and map to env vars by upper-casing and replacing dots with underscores
// (MEMENGINE_DECAY_THRESHOLD_DAYS).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "MEMENGINE"

// Viper keys.
const (
	KeyDBPath = "db"

	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"

	KeyEmbedProvider  = "embed.provider"
	KeyEmbedModel     = "embed.model"
	KeyEmbedURL       = "embed.url"
	KeyEmbedAPIKey    = "embed.api_key"
	KeyEmbedRPS       = "embed.rps"
	KeyEmbedCacheSize = "embed.cache_size"

	KeyVectorWeight     = "retrieval.vector_weight"
	KeyLexicalWeight    = "retrieval.lexical_weight"
	KeyBoostWeight      = "retrieval.boost_weight"
	KeyConfidenceWeight = "retrieval.confidence_weight"
	KeyImportanceWeight = "retrieval.importance_weight"
	KeyRecentBoost      = "retrieval.recent_boost"
	KeyRecentWindow     = "retrieval.recent_window"
	KeyWarmBoost        = "retrieval.warm_boost"
	KeyWarmWindow       = "retrieval.warm_window"
	KeyCandidateFactor  = "retrieval.candidate_factor"
	KeyLimit            = "retrieval.limit"
	KeyMinConfidence    = "retrieval.min_confidence"
	KeyMinScore         = "retrieval.min_score"
	KeyReinforceBoost   = "retrieval.reinforce_boost"

	KeyDecayThresholdDays   = "decay.threshold_days"
	KeyDecayAmount          = "decay.amount"
	KeyDecayMinConfidence   = "decay.min_confidence"
	KeyDecayArchiveAt       = "decay.archive_threshold"
	KeyDecayGraceDays       = "decay.archive_grace_days"
	KeyDecayProtectImp      = "decay.protect_importance"
	KeyDecayProtectConf     = "decay.protect_confidence"
	KeyDecayArchiveImpCap   = "decay.archive_importance_cap"
	KeyDecaySchedule        = "decay.schedule"
	KeyDecayLockTTL         = "decay.lock_ttl"
	KeyConsolidateMinSim    = "consolidation.min_similarity"
	KeyConsolidateLimit     = "consolidation.limit"
	KeyConsolidateLookback  = "consolidation.lookback_days"
	KeyConsolidatePrefilter = "consolidation.prefilter_above"
	KeyConsolidateNeighborK = "consolidation.neighbor_k"

	KeyRedisAddr     = "redis.addr"
	KeyRedisPassword = "redis.password"
	KeyRedisDB       = "redis.db"

	KeyMetricsAddr = "metrics.addr"
)

// Config holds resolved configuration for a memengine process.
type Config struct {
	DBPath        string
	Log           LogConfig
	Embed         EmbedConfig
	Retrieval     RetrievalConfig
	Decay         DecayConfig
	Consolidation ConsolidationConfig
	Redis         RedisConfig
	MetricsAddr   string
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// EmbedConfig selects the embedding provider. An empty provider disables
// embeddings; retrieval then runs lexical-only.
type EmbedConfig struct {
	Provider  string // "ollama", "openai" or ""
	Model     string
	URL       string
	APIKey    string
	RPS       float64 // 0 means unlimited
	CacheSize int64   // cached query embeddings; 0 disables the cache
}

// RetrievalConfig holds the composite-score weights and retrieval defaults.
type RetrievalConfig struct {
	VectorWeight     float64
	LexicalWeight    float64
	BoostWeight      float64
	ConfidenceWeight float64
	ImportanceWeight float64
	RecentBoost      float64
	RecentWindow     time.Duration
	WarmBoost        float64
	WarmWindow       time.Duration
	CandidateFactor  int
	Limit            int
	MinConfidence    float64
	MinScore         float64
	ReinforceBoost   float64
}

// DecayConfig holds decay pass defaults and the cron cadence.
type DecayConfig struct {
	ThresholdDays        int
	Amount               float64
	MinConfidence        float64
	ArchiveThreshold     float64
	ArchiveGraceDays     int
	ProtectImportance    float64
	ProtectConfidence    float64
	ArchiveImportanceCap float64
	Schedule             string
	LockTTL              time.Duration
}

// ConsolidationConfig holds near-duplicate detection defaults.
type ConsolidationConfig struct {
	MinSimilarity  float64
	Limit          int
	LookbackDays   int
	PrefilterAbove int
	NeighborK      int
}

// RedisConfig enables the single-instance decay lock when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// New returns a viper instance with defaults and env binding applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDBPath, defaultDBPath())
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFormat, "json")

	v.SetDefault(KeyEmbedProvider, "")
	v.SetDefault(KeyEmbedRPS, 0)
	v.SetDefault(KeyEmbedCacheSize, 1024)

	v.SetDefault(KeyVectorWeight, 0.6)
	v.SetDefault(KeyLexicalWeight, 0.3)
	v.SetDefault(KeyBoostWeight, 0.1)
	v.SetDefault(KeyConfidenceWeight, 0.5)
	v.SetDefault(KeyImportanceWeight, 0.3)
	v.SetDefault(KeyRecentBoost, 0.2)
	v.SetDefault(KeyRecentWindow, 7*24*time.Hour)
	v.SetDefault(KeyWarmBoost, 0.1)
	v.SetDefault(KeyWarmWindow, 30*24*time.Hour)
	v.SetDefault(KeyCandidateFactor, 3)
	v.SetDefault(KeyLimit, 10)
	v.SetDefault(KeyMinConfidence, 0.2)
	v.SetDefault(KeyMinScore, 0.05)
	v.SetDefault(KeyReinforceBoost, 0.02)

	v.SetDefault(KeyDecayThresholdDays, 30)
	v.SetDefault(KeyDecayAmount, 0.05)
	v.SetDefault(KeyDecayMinConfidence, 0.1)
	v.SetDefault(KeyDecayArchiveAt, 0.15)
	v.SetDefault(KeyDecayGraceDays, 7)
	v.SetDefault(KeyDecayProtectImp, 0.8)
	v.SetDefault(KeyDecayProtectConf, 0.5)
	v.SetDefault(KeyDecayArchiveImpCap, 0.7)
	v.SetDefault(KeyDecaySchedule, "@daily")
	v.SetDefault(KeyDecayLockTTL, 30*time.Minute)

	v.SetDefault(KeyConsolidateMinSim, 0.85)
	v.SetDefault(KeyConsolidateLimit, 20)
	v.SetDefault(KeyConsolidateLookback, 90)
	v.SetDefault(KeyConsolidatePrefilter, 500)
	v.SetDefault(KeyConsolidateNeighborK, 20)

	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyMetricsAddr, ":9464")
}

// ReadFile merges a YAML config file into v. A missing file is not an
// error when the path was not set explicitly.
func ReadFile(v *viper.Viper, path string, explicit bool) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !explicit && (errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load resolves a validated Config from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DBPath: v.GetString(KeyDBPath),
		Log: LogConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
		Embed: EmbedConfig{
			Provider:  v.GetString(KeyEmbedProvider),
			Model:     v.GetString(KeyEmbedModel),
			URL:       v.GetString(KeyEmbedURL),
			APIKey:    v.GetString(KeyEmbedAPIKey),
			RPS:       v.GetFloat64(KeyEmbedRPS),
			CacheSize: v.GetInt64(KeyEmbedCacheSize),
		},
		Retrieval: RetrievalConfig{
			VectorWeight:     v.GetFloat64(KeyVectorWeight),
			LexicalWeight:    v.GetFloat64(KeyLexicalWeight),
			BoostWeight:      v.GetFloat64(KeyBoostWeight),
			ConfidenceWeight: v.GetFloat64(KeyConfidenceWeight),
			ImportanceWeight: v.GetFloat64(KeyImportanceWeight),
			RecentBoost:      v.GetFloat64(KeyRecentBoost),
			RecentWindow:     v.GetDuration(KeyRecentWindow),
			WarmBoost:        v.GetFloat64(KeyWarmBoost),
			WarmWindow:       v.GetDuration(KeyWarmWindow),
			CandidateFactor:  v.GetInt(KeyCandidateFactor),
			Limit:            v.GetInt(KeyLimit),
			MinConfidence:    v.GetFloat64(KeyMinConfidence),
			MinScore:         v.GetFloat64(KeyMinScore),
			ReinforceBoost:   v.GetFloat64(KeyReinforceBoost),
		},
		Decay: DecayConfig{
			ThresholdDays:        v.GetInt(KeyDecayThresholdDays),
			Amount:               v.GetFloat64(KeyDecayAmount),
			MinConfidence:        v.GetFloat64(KeyDecayMinConfidence),
			ArchiveThreshold:     v.GetFloat64(KeyDecayArchiveAt),
			ArchiveGraceDays:     v.GetInt(KeyDecayGraceDays),
			ProtectImportance:    v.GetFloat64(KeyDecayProtectImp),
			ProtectConfidence:    v.GetFloat64(KeyDecayProtectConf),
			ArchiveImportanceCap: v.GetFloat64(KeyDecayArchiveImpCap),
			Schedule:             v.GetString(KeyDecaySchedule),
			LockTTL:              v.GetDuration(KeyDecayLockTTL),
		},
		Consolidation: ConsolidationConfig{
			MinSimilarity:  v.GetFloat64(KeyConsolidateMinSim),
			Limit:          v.GetInt(KeyConsolidateLimit),
			LookbackDays:   v.GetInt(KeyConsolidateLookback),
			PrefilterAbove: v.GetInt(KeyConsolidatePrefilter),
			NeighborK:      v.GetInt(KeyConsolidateNeighborK),
		},
		Redis: RedisConfig{
			Addr:     v.GetString(KeyRedisAddr),
			Password: v.GetString(KeyRedisPassword),
			DB:       v.GetInt(KeyRedisDB),
		},
		MetricsAddr: v.GetString(KeyMetricsAddr),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise break the score invariants.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	unit := map[string]float64{
		KeyMinConfidence:      c.Retrieval.MinConfidence,
		KeyMinScore:           c.Retrieval.MinScore,
		KeyReinforceBoost:     c.Retrieval.ReinforceBoost,
		KeyDecayAmount:        c.Decay.Amount,
		KeyDecayMinConfidence: c.Decay.MinConfidence,
		KeyDecayArchiveAt:     c.Decay.ArchiveThreshold,
		KeyDecayProtectImp:    c.Decay.ProtectImportance,
		KeyDecayProtectConf:   c.Decay.ProtectConfidence,
		KeyDecayArchiveImpCap: c.Decay.ArchiveImportanceCap,
		KeyConsolidateMinSim:  c.Consolidation.MinSimilarity,
	}
	for k, v := range unit {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", k, v)
		}
	}
	for k, w := range map[string]float64{
		KeyVectorWeight:     c.Retrieval.VectorWeight,
		KeyLexicalWeight:    c.Retrieval.LexicalWeight,
		KeyBoostWeight:      c.Retrieval.BoostWeight,
		KeyConfidenceWeight: c.Retrieval.ConfidenceWeight,
		KeyImportanceWeight: c.Retrieval.ImportanceWeight,
		KeyRecentBoost:      c.Retrieval.RecentBoost,
		KeyWarmBoost:        c.Retrieval.WarmBoost,
	} {
		if w < 0 {
			return fmt.Errorf("%s must not be negative, got %v", k, w)
		}
	}
	if c.Retrieval.CandidateFactor < 1 {
		return fmt.Errorf("%s must be at least 1", KeyCandidateFactor)
	}
	if c.Decay.ThresholdDays < 0 || c.Decay.ArchiveGraceDays < 0 || c.Consolidation.LookbackDays < 0 {
		return fmt.Errorf("day windows must not be negative")
	}
	switch c.Embed.Provider {
	case "", "ollama", "openai":
	default:
		return fmt.Errorf("%s: unknown provider %q (valid: ollama, openai)", KeyEmbedProvider, c.Embed.Provider)
	}
	return nil
}

func defaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memengine", "memory.db")
}
