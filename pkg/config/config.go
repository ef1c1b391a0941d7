package config

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"smallbiznis-loyalty/pkg/hashistack/secretmanager"

	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
	backend      = "consul"
	backendAddr  = "127.0.0.1:8500"
	backendPath  = "development" // e.g., app/<env>/<service_name>
	configType   = "yaml"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
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
		Metrics struct {
			Enable bool   `mapstructure:"ENABLE"`
			Port   uint32 `mapstructure:"PORT"`
		} `mapstructure:"METRICS"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Temporal struct {
		Addr      string `mapstructure:"ADDR"`
		Namespace string `mapstructure:"NAMESPACE"`
		TaskQueue string `mapstructure:"TASK_QUEUE"`
	} `mapstructure:"TEMPORAL"`
	Processor struct {
		BatchSize    int           `mapstructure:"BATCH_SIZE"`
		PollInterval time.Duration `mapstructure:"POLL_INTERVAL"`
	} `mapstructure:"PROCESSOR"`
	Expiration struct {
		Interval        time.Duration `mapstructure:"INTERVAL"`
		StartHour       int           `mapstructure:"START_HOUR"`
		StartMinute     int           `mapstructure:"START_MINUTE"`
		RetentionWindow time.Duration `mapstructure:"RETENTION_WINDOW"`
		Concurrency     int           `mapstructure:"CONCURRENCY"`
		LockTTL         time.Duration `mapstructure:"LOCK_TTL"`
	} `mapstructure:"EXPIRATION"`
	Consul struct {
		Addr        string `mapstructure:"ADDR"`
		ServiceHost string `mapstructure:"SERVICE_HOST"`
	} `mapstructure:"CONSUL"`
	Saga struct {
		Timeout         time.Duration `mapstructure:"TIMEOUT"`
		DeadlineBackend string        `mapstructure:"DEADLINE_BACKEND"`
	} `mapstructure:"SAGA"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))
var RemoteModule = fx.Module("remote.config", fx.Provide(LoadRemote))

type Params struct {
	fx.In
	Secrets secretmanager.Reader `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "smallbiznis-loyalty")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 10*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 10*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("GRPC_SERVER.ADDR", "9090")
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 10*time.Minute)
	v.SetDefault("DATABASE.METRICS.PORT", 9464)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)
	v.SetDefault("TEMPORAL.NAMESPACE", "default")
	v.SetDefault("TEMPORAL.TASK_QUEUE", "LOYALTY_SAGA_TASK_QUEUE")
	v.SetDefault("PROCESSOR.BATCH_SIZE", 100)
	v.SetDefault("PROCESSOR.POLL_INTERVAL", 500*time.Millisecond)
	v.SetDefault("EXPIRATION.INTERVAL", 24*time.Hour)
	v.SetDefault("EXPIRATION.START_HOUR", 1)
	v.SetDefault("EXPIRATION.START_MINUTE", 0)
	v.SetDefault("EXPIRATION.RETENTION_WINDOW", 30*24*time.Hour)
	v.SetDefault("EXPIRATION.CONCURRENCY", 8)
	v.SetDefault("EXPIRATION.LOCK_TTL", 30*time.Minute)
	v.SetDefault("SAGA.TIMEOUT", 5*time.Minute)
	v.SetDefault("SAGA.DEADLINE_BACKEND", "asynq")
	v.SetDefault("CONSUL.SERVICE_HOST", "127.0.0.1")
}

func LoadConfig(p Params) *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()
	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Warn("config.yaml not found, using defaults and environment")
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if p.Secrets != nil {
		mustApplySecrets(p.Secrets, &cfg)
	}

	return &cfg
}

func LoadRemote(p Params) *Config {
	if p.Secrets == nil {
		zap.L().Error("remote config requires vault secrets")
		os.Exit(1)
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = v
	}

	setDefaults(config)
	config.SetConfigType(configType)
	if err := config.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		zap.L().Error("failed to add remote config provider", zap.Error(err))
		os.Exit(1)
	}

	if err := config.ReadRemoteConfig(); err != nil {
		zap.L().Error("failed to read remote config", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal remote config", zap.Error(err))
		os.Exit(1)
	}
	mustApplySecrets(p.Secrets, &cfg)
	configHolder.Store(&cfg)

	go func() {
		for {
			time.Sleep(time.Second * 5)

			// currently, only tested with etcd support
			if err := config.WatchRemoteConfig(); err != nil {
				zap.L().Error("unable to read remote config", zap.Error(err))
				continue
			}

			var newcfg Config
			if err := config.Unmarshal(&newcfg); err != nil {
				zap.L().Error("unable to unmarshal remote config", zap.Error(err))
				continue
			}
			if err := applySecrets(context.Background(), p.Secrets, &newcfg); err != nil {
				zap.L().Error("unable to refresh secrets", zap.Error(err))
				continue
			}
			configHolder.Store(&newcfg)
		}
	}()

	return &cfg
}

// Current returns the latest remote config snapshot, if remote config is in use.
func Current() *Config {
	cfg, _ := configHolder.Load().(*Config)
	return cfg
}

func mustApplySecrets(r secretmanager.Reader, cfg *Config) {
	if err := applySecrets(context.Background(), r, cfg); err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		os.Exit(1)
	}
	zap.L().Info("Success Get Secret")
}

// applySecrets overlays credentials stored under the APP_ENV path. Keys
// missing from the secret leave the configured value in place.
func applySecrets(ctx context.Context, r secretmanager.Reader, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := r.ReadSecret(ctx, cfg.AppEnv)
	if err != nil {
		return err
	}

	overlay := map[string]*string{
		"postgres_user":     &cfg.Database.User,
		"postgres_password": &cfg.Database.Password,
		"redis_password":    &cfg.Redis.Password,
		"flagsmith_api_key": &cfg.Flagsmith.ApiKey,
	}
	for key, dst := range overlay {
		if v, ok := secret[key]; ok && v != "" {
			*dst = v
		}
	}
	return nil
}
