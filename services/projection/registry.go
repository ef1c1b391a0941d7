package projection

import (
	"context"
	"fmt"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/services/account"
	"smallbiznis-loyalty/services/activity"
	"smallbiznis-loyalty/services/business"
	"smallbiznis-loyalty/services/expiration"
	"smallbiznis-loyalty/services/ledger"
	"smallbiznis-loyalty/services/redemption"
	"smallbiznis-loyalty/services/saga"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Processing group names. They key processor_tokens, so renaming one
// replays the whole stream into its projections.
const (
	GroupLookups      = "lookups"
	GroupTransactions = "transactions"
	GroupRedemption   = "redemption"
	GroupExpiration   = "expiration"
	GroupActivity     = "activity"
	GroupSaga         = "saga"
)

// Group is a set of handlers that share one token. A halt in any handler
// stops the whole group.
type Group struct {
	Name     string
	Handlers []es.Handler
}

// Groups lists every processing group. The saga group is only present when
// a confirmation handler is given.
func Groups(db *gorm.DB, confirmation *saga.ConfirmationHandler) []Group {
	groups := []Group{
		{Name: GroupLookups, Handlers: []es.Handler{
			account.NewLookupProjection(db),
			business.NewLookupProjection(db),
			ledger.NewViewProjection(db),
		}},
		{Name: GroupTransactions, Handlers: []es.Handler{ledger.NewTransactionLogProjection(db)}},
		{Name: GroupRedemption, Handlers: []es.Handler{redemption.NewProjection(db)}},
		{Name: GroupExpiration, Handlers: []es.Handler{expiration.NewTracker(db)}},
		{Name: GroupActivity, Handlers: []es.Handler{activity.NewProjection(db)}},
	}
	if confirmation != nil {
		groups = append(groups, Group{Name: GroupSaga, Handlers: []es.Handler{confirmation}})
	}
	return groups
}

// Registry owns one processor per group.
type Registry struct {
	order      []string
	processors map[string]*es.Processor
}

type RegistryParams struct {
	fx.In
	DB           *gorm.DB
	Store        es.Store
	Config       *config.Config
	Meter        metric.MeterProvider       `optional:"true"`
	Confirmation *saga.ConfirmationHandler `optional:"true"`
}

func NewRegistry(p RegistryParams) *Registry {
	opts := []es.ProcessorOption{
		es.WithBatchSize(p.Config.Processor.BatchSize),
		es.WithPollInterval(p.Config.Processor.PollInterval),
	}
	if p.Meter != nil {
		opts = append(opts, es.WithMeterProvider(p.Meter))
	}
	return newRegistry(p.DB, p.Store, Groups(p.DB, p.Confirmation), opts...)
}

func newRegistry(db *gorm.DB, store es.Store, groups []Group, opts ...es.ProcessorOption) *Registry {
	r := &Registry{processors: make(map[string]*es.Processor, len(groups))}
	for _, g := range groups {
		r.order = append(r.order, g.Name)
		r.processors[g.Name] = es.NewProcessor(g.Name, db, store, g.Handlers, opts...)
	}
	return r
}

func (r *Registry) get(name string) (*es.Processor, error) {
	p, ok := r.processors[name]
	if !ok {
		return nil, errutil.NotFound(fmt.Sprintf("processing group %s does not exist", name), nil)
	}
	return p, nil
}

// Statuses returns the token of every group in registration order.
func (r *Registry) Statuses(ctx context.Context) ([]*es.Token, error) {
	out := make([]*es.Token, 0, len(r.order))
	for _, name := range r.order {
		token, err := r.processors[name].Status(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, token)
	}
	return out, nil
}

func (r *Registry) Resume(ctx context.Context, name string) (*es.Token, error) {
	p, err := r.get(name)
	if err != nil {
		return nil, err
	}
	if err := p.Resume(ctx); err != nil {
		return nil, err
	}
	return p.Status(ctx)
}

// CatchUp drains every group once. It stops at the first group that fails.
func (r *Registry) CatchUp(ctx context.Context) error {
	for _, name := range r.order {
		p := r.processors[name]
		for {
			n, err := p.ProcessBatch(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
		}
	}
	return nil
}

// Run drives every group until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range r.order {
		p := r.processors[name]
		g.Go(func() error {
			p.Run(ctx)
			return nil
		})
	}
	return g.Wait()
}
