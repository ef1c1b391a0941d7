package servicediscover

import (
	"context"
	"fmt"
	"strconv"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/health"

	"github.com/hashicorp/consul/api"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module registers the HTTP gateway with the Consul agent for the lifetime
// of the app. It is a no-op when CONSUL.ADDR is empty.
var Module = fx.Module("servicediscover",
	fx.Provide(NewRegistry),
	fx.Invoke(registerConsul),
)

type ServiceRegistry interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

type agent interface {
	ServiceRegister(service *api.AgentServiceRegistration) error
	ServiceDeregister(serviceID string) error
}

type ConsulRegistry struct {
	agent     agent
	serviceID string
	service   *api.AgentServiceRegistration
}

// NewRegistry returns nil when service discovery is not configured.
func NewRegistry(cfg *config.Config) (ServiceRegistry, error) {
	if cfg.Consul.Addr == "" {
		return nil, nil
	}

	port, err := strconv.Atoi(cfg.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("http server port %q: %w", cfg.Server.Addr, err)
	}

	conf := api.DefaultConfig()
	conf.Address = cfg.Consul.Addr
	client, err := api.NewClient(conf)
	if err != nil {
		return nil, err
	}

	serviceID := fmt.Sprintf("%s-%d", cfg.AppName, cfg.NodeID)
	return newConsulRegistry(client.Agent(), cfg.AppName, serviceID, cfg.Consul.ServiceHost, port), nil
}

func newConsulRegistry(a agent, serviceName, serviceID, host string, port int) *ConsulRegistry {
	return &ConsulRegistry{
		agent:     a,
		serviceID: serviceID,
		service: &api.AgentServiceRegistration{
			ID:      serviceID,
			Name:    serviceName,
			Address: host,
			Port:    port,
			Check: &api.AgentServiceCheck{
				HTTP:                           fmt.Sprintf("http://%s:%d%s", host, port, health.ReadinessPath),
				Interval:                       "10s",
				Timeout:                        "5s",
				DeregisterCriticalServiceAfter: "1m",
			},
		},
	}
}

func (r *ConsulRegistry) Register(ctx context.Context) error {
	return r.agent.ServiceRegister(r.service)
}

func (r *ConsulRegistry) Deregister(ctx context.Context) error {
	return r.agent.ServiceDeregister(r.serviceID)
}

func registerConsul(lc fx.Lifecycle, registry ServiceRegistry) {
	if registry == nil {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := registry.Register(ctx); err != nil {
				zap.L().Error("failed to register service with consul", zap.Error(err))
				return err
			}
			zap.L().Info("registered service with consul")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return registry.Deregister(ctx)
		},
	})
}
