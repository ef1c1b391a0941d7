package health

import (
	"context"
	"net/http"
	"time"

	"smallbiznis-loyalty/pkg/httpapi"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const ReadinessPath = "/readyz"

var Module = fx.Module("health",
	fx.Provide(ProvideHealth),
	fx.Invoke(registerReadiness, registerGRPCHealth),
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type Health struct {
	Status string       `json:"status"`
	Deps   []Dependency `json:"deps"`
}

// Checker reports whether the process can serve traffic.
type Checker interface {
	Readiness(ctx context.Context) Health
}

type health struct {
	db      *gorm.DB
	redis   *redis.Client
	timeout time.Duration
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) Checker {
	return &health{db: p.DB, redis: p.Redis, timeout: 2 * time.Second}
}

func (h *health) Readiness(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	this := Health{Status: StatusHealthy, Deps: make([]Dependency, 0, 2)}

	if h.db != nil {
		this.add(Dependency{Name: "database"}, func() error {
			sqlDB, err := h.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		})
	}

	if h.redis != nil {
		this.add(Dependency{Name: "redis"}, func() error {
			return h.redis.Ping(ctx).Err()
		})
	}

	return this
}

func (h *Health) add(dep Dependency, ping func() error) {
	dep.Status = StatusHealthy
	if err := ping(); err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
		h.Status = StatusUnhealthy
	}
	h.Deps = append(h.Deps, dep)
}

func registerReadiness(mux *runtime.ServeMux, c Checker) error {
	return mux.HandlePath(http.MethodGet, ReadinessPath, func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		result := c.Readiness(r.Context())
		if result.Status != StatusHealthy {
			zap.L().Warn("readiness check failed", zap.Any("deps", result.Deps))
			httpapi.WriteJSON(w, http.StatusServiceUnavailable, result)
			return
		}
		httpapi.WriteJSON(w, http.StatusOK, result)
	})
}
