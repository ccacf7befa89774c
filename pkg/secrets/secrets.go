// Package secrets provides SecretGetter implementations layered over the
// primary secret store.
package secrets

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
	"github.com/anirudhbiyani/crossfed/pkg/logging"
)

// EnvPrefix is prepended to upper-cased secret names by Env.
const EnvPrefix = "CROSSFED_SECRET_"

// Cached memoizes another getter's values for a bounded time. Concurrent
// misses for the same name share one upstream call.
type Cached struct {
	next   cloudauth.SecretGetter
	cache  *expirable.LRU[string, string]
	flight singleflight.Group
	logger logging.Logger
}

// NewCached wraps next with an LRU of size entries that expire after ttl.
func NewCached(next cloudauth.SecretGetter, size int, ttl time.Duration, logger logging.Logger) *Cached {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cached{
		next:   next,
		cache:  expirable.NewLRU[string, string](size, nil, ttl),
		logger: logger,
	}
}

// GetSecret implements cloudauth.SecretGetter. Failures are not cached.
func (c *Cached) GetSecret(ctx context.Context, name string) (string, error) {
	if v, ok := c.cache.Get(name); ok {
		return v, nil
	}
	v, err, _ := c.flight.Do(name, func() (interface{}, error) {
		val, err := c.next.GetSecret(ctx, name)
		if err != nil {
			return "", err
		}
		c.cache.Add(name, val)
		c.logger.Debug("secret cached", logging.String("secret", name))
		return val, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Purge drops every cached value.
func (c *Cached) Purge() {
	c.cache.Purge()
}

// Env reads secrets from CROSSFED_SECRET_<NAME> environment variables.
type Env struct {
	lookup func(string) (string, bool)
}

// NewEnv creates an Env over the process environment.
func NewEnv() *Env {
	return &Env{lookup: os.LookupEnv}
}

// GetSecret implements cloudauth.SecretGetter.
func (e *Env) GetSecret(_ context.Context, name string) (string, error) {
	key := EnvPrefix + strings.ToUpper(name)
	v, ok := e.lookup(key)
	if !ok {
		return "", cloudauth.ErrNotFound("secret", name).WithDetail("env", key)
	}
	return v, nil
}

// Static serves secrets from a fixed map.
type Static map[string]string

// GetSecret implements cloudauth.SecretGetter.
func (s Static) GetSecret(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", cloudauth.ErrNotFound("secret", name)
	}
	return v, nil
}

var (
	_ cloudauth.SecretGetter = (*Cached)(nil)
	_ cloudauth.SecretGetter = (*Env)(nil)
	_ cloudauth.SecretGetter = Static(nil)
)
