package kernel

import (
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/qexp/internal/dialect"
	"github.com/roach88/qexp/internal/mapping"
)

// DefaultCacheSize is the number of query shapes a Compiler remembers.
const DefaultCacheSize = 256

// Compiler compiles queries for one mapping and dialect. It keeps a
// SelectConstructor per query shape, so repeated queries reuse whatever
// their constructor cached.
//
// Compiler is safe for concurrent use. Compilations of the same shape are
// serialized; different shapes compile in parallel.
type Compiler struct {
	repo   *mapping.Repository
	dict   *dialect.Dictionary
	logger *slog.Logger
	level  CacheLevel
	size   int

	cache *lru.Cache[string, *entry]
}

type entry struct {
	mu sync.Mutex
	sc *SelectConstructor
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) CompilerOption {
	return func(c *Compiler) {
		c.logger = l
	}
}

// WithCacheLevel sets the level constructors cache at. Default: CacheFull.
func WithCacheLevel(level CacheLevel) CompilerOption {
	return func(c *Compiler) {
		c.level = level
	}
}

// WithCacheSize sets how many query shapes are kept.
func WithCacheSize(n int) CompilerOption {
	return func(c *Compiler) {
		c.size = n
	}
}

// NewCompiler returns a compiler over repo writing dict's SQL.
func NewCompiler(repo *mapping.Repository, dict *dialect.Dictionary, opts ...CompilerOption) (*Compiler, error) {
	c := &Compiler{
		repo:   repo,
		dict:   dict,
		logger: slog.Default(),
		level:  CacheFull,
		size:   DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	cache, err := lru.NewWithEvict(c.size, func(key string, _ *entry) {
		c.logger.Debug("query shape evicted", "shape", key[:12])
	})
	if err != nil {
		return nil, fmt.Errorf("compiler cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

// Dialect returns the dictionary the compiler writes SQL for.
func (c *Compiler) Dialect() *dialect.Dictionary { return c.dict }

// Repository returns the mapping queries are compiled against.
func (c *Compiler) Repository() *mapping.Repository { return c.repo }

// Compile compiles q with params bound.
func (c *Compiler) Compile(q *QueryExpressions, params map[string]any) (*Statement, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	key, err := q.Fingerprint()
	if err != nil {
		return nil, err
	}
	e, ok := c.cache.Get(key)
	if !ok {
		fresh := &entry{sc: NewSelectConstructor(q, c.dict, c.repo, c.logger)}
		if prev, found, _ := c.cache.PeekOrAdd(key, fresh); found {
			e = prev
		} else {
			e = fresh
			c.logger.Debug("new query shape", "shape", key[:12], "query", q.String())
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sc.Evaluate(params, c.level)
}

// Len returns the number of cached query shapes.
func (c *Compiler) Len() int { return c.cache.Len() }

// Purge drops every cached constructor.
func (c *Compiler) Purge() { c.cache.Purge() }
