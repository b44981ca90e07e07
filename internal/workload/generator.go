package workload

import (
	"math/rand/v2"
	"sync"
	"time"
)

const (
	maxCount    = 20
	maxDaysBack = 7
	day         = 24 * time.Hour

	// DateTimeLayout is the wire format of SightingRecord.DateTime.
	DateTimeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// SightingRecord is the payload posted to the items endpoint.
type SightingRecord struct {
	Image        string `json:"image"`
	MushroomName string `json:"mushroomName"`
	Location     string `json:"location"`
	DateTime     string `json:"dateTime"`
	Count        int    `json:"count"`
}

// Generator produces randomized sighting records and think times.
//
// Generator is safe for concurrent use. All randomness comes from a single
// source guarded by a mutex, so a seeded source yields a reproducible
// sequence when called from one goroutine.
type Generator struct {
	catalog Catalog
	now     func() time.Time

	thinkMin time.Duration
	thinkMax time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand sets the random source.
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) {
		g.rng = rng
	}
}

// WithSeed seeds a PCG source deterministically.
func WithSeed(seed uint64) Option {
	return WithRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// WithThinkTime sets the think time bounds.
func WithThinkTime(minDur, maxDur time.Duration) Option {
	return func(g *Generator) {
		g.thinkMin = minDur
		g.thinkMax = maxDur
	}
}

// NewGenerator creates a Generator over the given catalog.
//
// It fails with a *ConfigurationError if any catalog is empty or the think
// time bounds are invalid.
func NewGenerator(catalog Catalog, opts ...Option) (*Generator, error) {
	if err := catalog.Validate(); err != nil {
		return nil, err
	}

	g := &Generator{
		catalog:  catalog,
		now:      time.Now,
		thinkMin: time.Second,
		thinkMax: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.rng == nil {
		g.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if g.thinkMin < 0 {
		return nil, &ConfigurationError{Field: "thinkTime.min", Message: "must be >= 0"}
	}
	if g.thinkMax < g.thinkMin {
		return nil, &ConfigurationError{Field: "thinkTime.max", Message: "must be >= thinkTime.min"}
	}

	return g, nil
}

// Generate builds a fresh sighting record.
func (g *Generator) Generate() SightingRecord {
	now := g.now()

	g.mu.Lock()
	image := g.catalog.Images[g.rng.IntN(len(g.catalog.Images))]
	name := g.catalog.Names[g.rng.IntN(len(g.catalog.Names))]
	location := g.catalog.Locations[g.rng.IntN(len(g.catalog.Locations))]
	count := g.rng.IntN(maxCount) + 1
	daysAgo := g.rng.IntN(maxDaysBack)
	g.mu.Unlock()

	return SightingRecord{
		Image:        image,
		MushroomName: name,
		Location:     location,
		DateTime:     now.Add(-time.Duration(daysAgo) * day).UTC().Format(DateTimeLayout),
		Count:        count,
	}
}

// ThinkTime returns a pause uniformly distributed in [min, max].
// The generator never sleeps; pacing is up to the caller.
func (g *Generator) ThinkTime() time.Duration {
	span := g.thinkMax - g.thinkMin
	if span == 0 {
		return g.thinkMin
	}

	g.mu.Lock()
	f := g.rng.Float64()
	g.mu.Unlock()

	// Float64 is in [0,1); stretch by one nanosecond so max is reachable.
	return g.thinkMin + time.Duration(f*float64(span+1))
}

// Chance reports true with probability p.
func (g *Generator) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64() < p
}

// Catalog returns the catalog the generator draws from.
func (g *Generator) Catalog() Catalog {
	return g.catalog
}
