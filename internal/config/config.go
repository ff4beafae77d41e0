package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/gridvoice/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type IdentityConfig struct {
	Store string `mapstructure:"store"`
	DSN   string `mapstructure:"dsn"`
}

type RateConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type Config struct {
	Mode          string `mapstructure:"mode"`
	Port          int    `mapstructure:"port"`
	StaticPath    string `mapstructure:"static_path"`
	AvatarDir     string `mapstructure:"avatar_dir"`
	AvatarCatalog string `mapstructure:"avatar_catalog"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendQueue  int           `mapstructure:"send_queue"`

	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`

	GridSize           int           `mapstructure:"grid_size"`
	ProximityThreshold int           `mapstructure:"proximity_threshold"`
	HandshakeTimeout   time.Duration `mapstructure:"handshake_timeout"`
	ICEServers         []string      `mapstructure:"ice_servers"`

	Identity IdentityConfig `mapstructure:"identity"`
	JoinRate RateConfig     `mapstructure:"join_rate"`
}

// SetDefaults registers the defaults shared by the server and the headless client.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("avatar_dir", "./avatars")
	v.SetDefault("avatar_catalog", "./avatars/avatars.json")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_queue", 64)
	v.SetDefault("secret", "supersecret")
	v.SetDefault("token_ttl", "2h")
	v.SetDefault("grid_size", 10)
	v.SetDefault("proximity_threshold", 2)
	v.SetDefault("handshake_timeout", "20s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("identity.store", "memory")
	v.SetDefault("identity.dsn", "./data/identity.db")
	v.SetDefault("join_rate.limit", 5)
	v.SetDefault("join_rate.interval", "10s")
}

// New returns a viper instance with defaults and GRIDVOICE_* env overrides.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("gridvoice")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

func Load() (*Config, error) {
	v := New()

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}
	return Decode(v)
}

// Decode unmarshals v and checks the values the hub and mesh rely on.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.GridSize <= 0 || cfg.GridSize > domain.MaxCoordinate {
		return nil, fmt.Errorf("grid_size must be in (0, %d], got %d", domain.MaxCoordinate, cfg.GridSize)
	}
	if cfg.ProximityThreshold < 0 {
		return nil, fmt.Errorf("proximity_threshold must not be negative, got %d", cfg.ProximityThreshold)
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 64
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Int("grid", cfg.GridSize).
		Int("threshold", cfg.ProximityThreshold).
		Str("identity_store", cfg.Identity.Store).
		Msg("config ready")
	return &cfg, nil
}
