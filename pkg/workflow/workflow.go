package workflow

import (
	"context"
	"log/slog"
	"os"
	"time"

	"smallbiznis-loyalty/pkg/config"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var ProvideClient = fx.Module("temporal",
	fx.Provide(NewClient),
	fx.Invoke(Close),
)

// NewClient dials Temporal. It returns nil when TEMPORAL.ADDR is empty so
// processes that do not use Temporal can still be wired.
func NewClient(cfg *config.Config) client.Client {
	if cfg.Temporal.Addr == "" {
		zap.L().Info("temporal address not configured, client disabled")
		return nil
	}

	var c client.Client
	var err error

	logLevel := slog.LevelDebug
	if cfg.AppEnv == "production" {
		logLevel = slog.LevelInfo
	}

	clientOptions := client.Options{
		HostPort:  cfg.Temporal.Addr,
		Namespace: cfg.Temporal.Namespace,
		ConnectionOptions: client.ConnectionOptions{
			KeepAliveTime:    30 * time.Second,
			KeepAliveTimeout: 30 * time.Second,
			DialOptions: []grpc.DialOption{
				grpc.WithTransportCredentials(
					insecure.NewCredentials(),
				),
			},
		},
		Logger: log.With(
			slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				AddSource: true,
				Level:     logLevel,
			})), "service", cfg.AppName),
	}

	for i := 1; i <= 3; i++ {
		c, err = client.Dial(clientOptions)
		if err == nil {
			break
		}
		zap.L().Warn("retrying Temporal client connection", zap.Int("attempt", i), zap.Error(err))
		time.Sleep(2 * time.Second)
	}

	if err != nil {
		zap.L().Fatal("❌ failed to connect Temporal server after retries", zap.Error(err))
	}

	zap.L().Info("✅ Connected to Temporal server")
	return c
}

func Close(lc fx.Lifecycle, c client.Client) {
	if c == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			c.Close()
			return nil
		},
	})
}
