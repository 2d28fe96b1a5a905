package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Chain struct {
		Enable        bool          `mapstructure:"ENABLE"`
		BridgeURL     string        `mapstructure:"BRIDGE_URL"`
		APIKey        string        `mapstructure:"API_KEY"`
		Timeout       time.Duration `mapstructure:"TIMEOUT"`
		ExplorerURL   string        `mapstructure:"EXPLORER_URL"`
		TokenDecimals int32         `mapstructure:"TOKEN_DECIMALS"`
	} `mapstructure:"CHAIN"`
	Rewards struct {
		MinWithdrawal       int64 `mapstructure:"MIN_WITHDRAWAL"`
		MaxWithdrawal       int64 `mapstructure:"MAX_WITHDRAWAL"`
		MinViewSeconds      int64 `mapstructure:"MIN_VIEW_SECONDS"`
		SignupBonus         int64 `mapstructure:"SIGNUP_BONUS"`
		DistributeBatchSize int   `mapstructure:"DISTRIBUTE_BATCH_SIZE"`
	} `mapstructure:"REWARDS"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			zap.L().Warn("config file not readable, using env and defaults", zap.Error(err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		zap.L().Fatal("failed to unmarshal config", zap.Error(err))
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "rewardplane")

	v.SetDefault("HTTP_SERVER.ADDR", ":8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)

	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")

	v.SetDefault("CHAIN.TIMEOUT", 30*time.Second)
	v.SetDefault("CHAIN.TOKEN_DECIMALS", 18)

	// Reward amounts are int64 minor units (2 decimal places).
	v.SetDefault("REWARDS.MIN_WITHDRAWAL", int64(1000))
	v.SetDefault("REWARDS.MAX_WITHDRAWAL", int64(1_000_000))
	v.SetDefault("REWARDS.MIN_VIEW_SECONDS", int64(5))
	v.SetDefault("REWARDS.SIGNUP_BONUS", int64(500))
	v.SetDefault("REWARDS.DISTRIBUTE_BATCH_SIZE", 20)
}
