package config

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	TelegramToken string `mapstructure:"telegram_token"`

	// StorageProvider selects the gorm dialector: "postgres" or "sqlite".
	StorageProvider string `mapstructure:"storage_provider"`
	PostgresDSN     string `mapstructure:"postgres_dsn"`
	SqlitePath      string `mapstructure:"sqlite_path"`

	BindingCodeTimeout time.Duration `mapstructure:"binding_code_timeout"`
	TwoFactorTimeout   time.Duration `mapstructure:"two_factor_timeout"`
	// TwoFactorMode is "after_password" (start 2FA only after the primary
	// authentication step completed) or "always".
	TwoFactorMode   string        `mapstructure:"two_factor_mode"`
	CodeBytes       int           `mapstructure:"code_bytes"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	BotHandleTimeout time.Duration `mapstructure:"bot_handle_timeout"`
	PollTimeout      time.Duration `mapstructure:"poll_timeout"`

	Admins []int64 `mapstructure:"admins"`

	GameServerURL   string `mapstructure:"game_server_url"`
	GameServerToken string `mapstructure:"game_server_token"`
	APIListenAddr   string `mapstructure:"api_listen_addr"`
}

const (
	TwoFactorModeAfterPassword = "after_password"
	TwoFactorModeAlways        = "always"

	StorageProviderPostgres = "postgres"
	StorageProviderSqlite   = "sqlite"
)

func New() *Config {
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		logrus.Fatalf("unmarshalling config: %v", err)
	}
	return cfg
}

func SetupCommon() {
	viper.SetDefault("storage_provider", StorageProviderPostgres)
	viper.SetDefault("sqlite_path", "bindery.sqlite")
	viper.SetDefault("binding_code_timeout", "300s")
	viper.SetDefault("two_factor_timeout", "120s")
	viper.SetDefault("two_factor_mode", TwoFactorModeAfterPassword)
	viper.SetDefault("code_bytes", 3)
	viper.SetDefault("cleanup_interval", "1m")
	viper.SetDefault("bot_handle_timeout", "10s")
	viper.SetDefault("poll_timeout", "10s")
	viper.SetDefault("api_listen_addr", ":8080")

	viper.SetEnvPrefix("BINDERY")

	viper.MustBindEnv("telegram_token")
	viper.MustBindEnv("game_server_url")
	viper.MustBindEnv("postgres_dsn")

	// Optional keys still need an explicit binding: Unmarshal only sees
	// keys viper knows about, AutomaticEnv alone does not register them.
	_ = viper.BindEnv("game_server_token")
	_ = viper.BindEnv("admins")

	viper.AutomaticEnv()
}
