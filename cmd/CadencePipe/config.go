package main

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/BTreeMap/CadencePipe/internal/engine"
	"github.com/BTreeMap/CadencePipe/internal/outcome"
)

// Default configuration constants
const (
	DefaultStateDir   = "/var/lib/cadencepipe"
	DefaultDBFileName = "cadencepipe.db"
)

// Configuration keys. Each is read from CADENCE_<KEY> and, where listed in plainEnv, from the
// conventional unprefixed variable.
const (
	keyStateDir         = "state_dir"
	keyDatabaseURL      = "database_url"
	keySequencesDir     = "sequences_dir"
	keyLeadsFile        = "leads_file"
	keyLeadsDSN         = "leads_dsn"
	keyLogLevel         = "log_level"
	keyAPIAddr          = "api_addr"
	keyInstanceID       = "instance_id"
	keyInterval         = "scheduler_interval"
	keyBatchSize        = "batch_size"
	keyClaimLease       = "claim_lease"
	keyRetryBackoff     = "retry_backoff"
	keyFallbackDelay    = "fallback_delay"
	keyNoShowInterval   = "noshow_interval"
	keyNoShowGrace      = "noshow_grace"
	keyRecoverySequence = "recovery_sequence"
	keyOpenAIKey        = "openai_api_key"
	keyOpenAIModel      = "openai_model"
	keyGenAIDebug       = "genai_debug"
	keySenderName       = "sender_name"
	keyDefaultAgent     = "default_agent"
	keyRedisAddr        = "redis_addr"
	keyRedisPassword    = "redis_password"
	keyRedisDB          = "redis_db"
	keyOutcomeStream    = "outcome_stream"
	keySentryDSN        = "sentry_dsn"
	keyEnvironment      = "environment"
)

var plainEnv = map[string]string{
	keyDatabaseURL:   "DATABASE_URL",
	keyOpenAIKey:     "OPENAI_API_KEY",
	keyRedisAddr:     "REDIS_ADDR",
	keyRedisPassword: "REDIS_PASSWORD",
	keySentryDSN:     "SENTRY_DSN",
	keyAPIAddr:       "API_ADDR",
	keyLogLevel:      "LOG_LEVEL",
}

func configureViper() {
	viper.SetEnvPrefix("CADENCE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	for key, env := range plainEnv {
		_ = viper.BindEnv(key, "CADENCE_"+strings.ToUpper(key), env)
	}

	viper.SetDefault(keyStateDir, DefaultStateDir)
	viper.SetDefault(keyLogLevel, "info")
	viper.SetDefault(keyAPIAddr, ":8080")
	viper.SetDefault(keyInterval, engine.DefaultInterval)
	viper.SetDefault(keyBatchSize, engine.DefaultBatchSize)
	viper.SetDefault(keyClaimLease, engine.DefaultClaimLease)
	viper.SetDefault(keyRetryBackoff, engine.DefaultRetryBackoff)
	viper.SetDefault(keyFallbackDelay, engine.DefaultFallbackDelay)
	viper.SetDefault(keyNoShowInterval, engine.DefaultNoShowInterval)
	viper.SetDefault(keyNoShowGrace, engine.DefaultNoShowGrace)
	viper.SetDefault(keySenderName, "CadencePipe")
	viper.SetDefault(keyDefaultAgent, "default")
	viper.SetDefault(keyOutcomeStream, outcome.DefaultStream)
}

func bindFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// Config is the resolved runtime configuration.
type Config struct {
	StateDir     string
	DatabaseURL  string
	SequencesDir string
	LeadsFile    string
	LeadsDSN     string
	APIAddr      string

	Engine           engine.Config
	RetryBackoff     time.Duration
	FallbackDelay    time.Duration
	NoShowInterval   time.Duration
	NoShowGrace      time.Duration
	RecoverySequence string

	OpenAIKey    string
	OpenAIModel  string
	GenAIDebug   bool
	SenderName   string
	DefaultAgent string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	OutcomeStream string

	SentryDSN   string
	Environment string
}

// loadConfig reads the configuration from viper. An empty database URL defaults to SQLite in
// the state directory.
func loadConfig(v *viper.Viper) Config {
	cfg := Config{
		StateDir:     v.GetString(keyStateDir),
		DatabaseURL:  v.GetString(keyDatabaseURL),
		SequencesDir: v.GetString(keySequencesDir),
		LeadsFile:    v.GetString(keyLeadsFile),
		LeadsDSN:     v.GetString(keyLeadsDSN),
		APIAddr:      v.GetString(keyAPIAddr),
		Engine: engine.Config{
			Interval:   v.GetDuration(keyInterval),
			BatchSize:  v.GetInt(keyBatchSize),
			ClaimLease: v.GetDuration(keyClaimLease),
			InstanceID: v.GetString(keyInstanceID),
		},
		RetryBackoff:     v.GetDuration(keyRetryBackoff),
		FallbackDelay:    v.GetDuration(keyFallbackDelay),
		NoShowInterval:   v.GetDuration(keyNoShowInterval),
		NoShowGrace:      v.GetDuration(keyNoShowGrace),
		RecoverySequence: v.GetString(keyRecoverySequence),
		OpenAIKey:        v.GetString(keyOpenAIKey),
		OpenAIModel:      v.GetString(keyOpenAIModel),
		GenAIDebug:       v.GetBool(keyGenAIDebug),
		SenderName:       v.GetString(keySenderName),
		DefaultAgent:     v.GetString(keyDefaultAgent),
		RedisAddr:        v.GetString(keyRedisAddr),
		RedisPassword:    v.GetString(keyRedisPassword),
		RedisDB:          v.GetInt(keyRedisDB),
		OutcomeStream:    v.GetString(keyOutcomeStream),
		SentryDSN:        v.GetString(keySentryDSN),
		Environment:      v.GetString(keyEnvironment),
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = filepath.Join(cfg.StateDir, DefaultDBFileName)
	}
	return cfg
}
