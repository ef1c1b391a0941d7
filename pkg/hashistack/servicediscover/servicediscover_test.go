package servicediscover

import (
	"context"
	"testing"

	"github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/require"

	"smallbiznis-loyalty/pkg/config"
)

type fakeAgent struct {
	registered   *api.AgentServiceRegistration
	deregistered string
}

func (f *fakeAgent) ServiceRegister(s *api.AgentServiceRegistration) error {
	f.registered = s
	return nil
}

func (f *fakeAgent) ServiceDeregister(id string) error {
	f.deregistered = id
	return nil
}

func TestRegistryRoundTrip(t *testing.T) {
	a := &fakeAgent{}
	r := newConsulRegistry(a, "smallbiznis-loyalty", "smallbiznis-loyalty-1", "10.0.0.5", 8080)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx))
	require.Equal(t, "smallbiznis-loyalty-1", a.registered.ID)
	require.Equal(t, 8080, a.registered.Port)
	require.Equal(t, "http://10.0.0.5:8080/readyz", a.registered.Check.HTTP)

	require.NoError(t, r.Deregister(ctx))
	require.Equal(t, "smallbiznis-loyalty-1", a.deregistered)
}

func TestNewRegistry(t *testing.T) {
	cfg := &config.Config{}
	registry, err := NewRegistry(cfg)
	require.NoError(t, err)
	require.Nil(t, registry)

	cfg.Consul.Addr = "127.0.0.1:8500"
	cfg.Server.Addr = "not-a-port"
	_, err = NewRegistry(cfg)
	require.Error(t, err)

	cfg.Server.Addr = "8080"
	registry, err = NewRegistry(cfg)
	require.NoError(t, err)
	require.NotNil(t, registry)
}
