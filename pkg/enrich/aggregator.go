package enrich

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/apperr"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/config"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/ratelimit"
)

// ProfileStore persists composite profiles.
type ProfileStore interface {
	SaveProfile(ctx context.Context, leadKey string, payload []byte, aiScore int) error
}

// Aggregator fans an enrichment request out to all resolved providers in
// parallel, merges their partial results and scores the composite.
type Aggregator struct {
	providers []Provider // resolution order: merge is last-writer-wins over this
	limiters  map[string]*ratelimit.Keyed
	cache     Cache
	store     ProfileStore
	ttl       time.Duration
	log       zerolog.Logger
}

// New builds the aggregator from config with the standard provider set.
func New(cfg config.EnrichConfig, cache Cache, store ProfileStore, log zerolog.Logger) *Aggregator {
	a := NewWithProviders(NewProviders(cfg), cache, store, cfg.CacheTTL, log)
	for name, capacity := range map[string]int{
		"clearbit": cfg.Clearbit.RateCap,
		"apollo":   cfg.Apollo.RateCap,
		"hunter":   cfg.Hunter.RateCap,
		"linkedin": cfg.LinkedIn.RateCap,
	} {
		if capacity > 0 {
			a.limiters[name] = ratelimit.NewPerSecond(capacity)
		}
	}
	return a
}

// NewWithProviders wires an explicit provider list; used by tests.
func NewWithProviders(providers []Provider, cache Cache, store ProfileStore, ttl time.Duration, log zerolog.Logger) *Aggregator {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Aggregator{
		providers: providers,
		limiters:  make(map[string]*ratelimit.Keyed),
		cache:     cache,
		store:     store,
		ttl:       ttl,
		log:       log.With().Str("component", "enrich").Logger(),
	}
}

// Enrich runs the full pipeline. A cache hit short-circuits the provider
// fan-out but still persists the profile for the lead.
func (a *Aggregator) Enrich(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key := req.CacheKey()
	if payload, hit, err := a.cache.Get(ctx, key); err == nil && hit {
		var cached Result
		if err := json.Unmarshal(payload, &cached); err == nil {
			a.log.Debug().Str("key", key).Msg("enrichment cache hit")
			a.persist(ctx, req, &cached)
			return &cached, nil
		}
	}

	resolved := a.resolveProviders(req.Sources)
	if len(resolved) == 0 {
		return nil, apperr.New(apperr.KindValidation, "no enrichment providers resolved for request")
	}

	partials := a.fetchAll(ctx, resolved, req)

	res := a.merge(req, resolved, partials)
	res.DecisionMakers = extractDecisionMakers(res.People)
	res.AIScore, res.Factors = safeScore(res)

	a.persist(ctx, req, res)

	if payload, err := json.Marshal(res); err == nil {
		if err := a.cache.Put(ctx, key, payload, time.Now().Add(a.ttl)); err != nil {
			a.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return res, nil
}

// resolveProviders intersects the enabled provider set with the requested
// sources; "all", or no sources at all, selects every enabled provider.
func (a *Aggregator) resolveProviders(sources []string) []Provider {
	if len(sources) == 0 {
		return a.providers
	}
	want := make(map[string]bool, len(sources))
	for _, s := range sources {
		s = normalize(s)
		if s == "all" {
			return a.providers
		}
		want[s] = true
	}
	var out []Provider
	for _, p := range a.providers {
		if want[p.Name()] {
			out = append(out, p)
		}
	}
	return out
}

type fetchOutcome struct {
	partial Partial
	err     error
}

// fetchAll queries every provider concurrently. A provider failure degrades
// to an error outcome for that slot; it never aborts the others.
func (a *Aggregator) fetchAll(ctx context.Context, providers []Provider, req Request) []fetchOutcome {
	outcomes := make([]fetchOutcome, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i].err = apperr.Newf(apperr.KindUpstream, "%s panicked: %v", p.Name(), r)
				}
			}()

			if lim, ok := a.limiters[p.Name()]; ok {
				if err := lim.Wait(ctx, p.Name()); err != nil {
					outcomes[i].err = err
					return
				}
			}
			partial, err := p.Fetch(ctx, req)
			outcomes[i] = fetchOutcome{partial: partial, err: err}
		}(i, p)
	}
	wg.Wait()
	return outcomes
}

// merge folds partials in resolution order: company fields last-writer-wins,
// people/technologies concatenated then deduplicated by normalized value.
func (a *Aggregator) merge(req Request, providers []Provider, outcomes []fetchOutcome) *Result {
	res := &Result{
		People:         []Person{},
		Technologies:   []string{},
		Sources:        []string{},
		DecisionMakers: []Person{},
	}
	for i, out := range outcomes {
		name := providers[i].Name()
		if out.err != nil {
			a.log.Warn().Err(out.err).Str("provider", name).Str("lead", req.LeadID).Msg("provider failed")
			res.Errors = append(res.Errors, SourceError{Source: name, Error: out.err.Error()})
			continue
		}
		mergeCompany(&res.Company, out.partial.Company)
		res.People = append(res.People, out.partial.People...)
		res.Technologies = append(res.Technologies, out.partial.Technologies...)
		res.Sources = append(res.Sources, name)
	}
	res.People = dedupePeople(res.People)
	res.Technologies = dedupeStrings(res.Technologies)
	return res
}

// safeScore never lets a scoring failure abort the enrichment.
func safeScore(res *Result) (score int, f ScoreFactors) {
	defer func() {
		if r := recover(); r != nil {
			score = DefaultScore
		}
	}()
	return Score(res)
}

func (a *Aggregator) persist(ctx context.Context, req Request, res *Result) {
	if a.store == nil {
		return
	}
	leadKey := req.LeadID
	if leadKey == "" {
		leadKey = req.CacheKey()
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := a.store.SaveProfile(ctx, leadKey, payload, res.AIScore); err != nil {
		a.log.Warn().Err(err).Str("lead", leadKey).Msg("profile persist failed")
	}
}
