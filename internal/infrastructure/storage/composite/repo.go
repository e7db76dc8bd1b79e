package composite

import (
	"context"
	"errors"

	"mdstream/internal/application/port"
	"mdstream/internal/domain/model"
)

// Repo fans UpsertLatest out to every configured store.
type Repo struct {
	repos []port.Repository
}

func New(repos ...port.Repository) *Repo {
	// nil repos are allowed; filter in constructor for safety
	out := make([]port.Repository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) Len() int { return len(r.repos) }

func (r *Repo) UpsertLatest(ctx context.Context, topic string, payload []byte, ts int64) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.UpsertLatest(ctx, topic, payload, ts); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) Close() error {
	var errs []error
	for _, repo := range r.repos {
		if err := repo.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Resolvers chains symbol sources; the first one that knows the pair wins.
type Resolvers struct {
	sources []port.VenueResolver
}

func NewResolvers(sources ...port.VenueResolver) *Resolvers {
	out := make([]port.VenueResolver, 0, len(sources))
	for _, s := range sources {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Resolvers{sources: out}
}

func (c *Resolvers) ForVenue(venue string) port.SymbolResolver {
	chain := make([]port.SymbolResolver, 0, len(c.sources))
	for _, s := range c.sources {
		chain = append(chain, s.ForVenue(venue))
	}
	return chainResolver(chain)
}

type chainResolver []port.SymbolResolver

// Resolve 只有 ErrSymbolNotFound 才继续下一个源，其他错误直接返回
func (c chainResolver) Resolve(ctx context.Context, symbol, exchange string) (model.Instrument, error) {
	for _, r := range c {
		inst, err := r.Resolve(ctx, symbol, exchange)
		if err == nil {
			return inst, nil
		}
		if !errors.Is(err, port.ErrSymbolNotFound) {
			return model.Instrument{}, err
		}
	}
	return model.Instrument{}, port.ErrSymbolNotFound
}

var (
	_ port.Repository    = (*Repo)(nil)
	_ port.VenueResolver = (*Resolvers)(nil)
)
