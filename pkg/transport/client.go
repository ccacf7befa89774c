// Package transport builds the HTTP clients shared by the federation
// components.
package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/anirudhbiyani/crossfed/pkg/logging"
)

// DefaultTimeout bounds each HTTP call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// NewClient returns a pooled client whose calls are bounded by timeout. It
// never retries.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := cleanhttp.DefaultPooledClient()
	c.Timeout = timeout
	return c
}

// NewRetryingClient returns a client that retries connection errors and
// 5xx responses. It is for collaborators outside the federation path.
func NewRetryingClient(timeout time.Duration, retries int, logger logging.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = NewClient(timeout)
	rc.RetryMax = retries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = leveledLogger{logger}
	return rc.StandardClient()
}

// leveledLogger adapts logging.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	l logging.Logger
}

func fields(kv []interface{}) []logging.Field {
	out := make([]logging.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logging.String(fmt.Sprint(kv[i]), fmt.Sprint(kv[i+1])))
	}
	return out
}

func (a leveledLogger) Error(msg string, kv ...interface{}) { a.l.Error(msg, fields(kv)...) }
func (a leveledLogger) Info(msg string, kv ...interface{})  { a.l.Debug(msg, fields(kv)...) }
func (a leveledLogger) Debug(msg string, kv ...interface{}) { a.l.Debug(msg, fields(kv)...) }
func (a leveledLogger) Warn(msg string, kv ...interface{})  { a.l.Warn(msg, fields(kv)...) }

var _ retryablehttp.LeveledLogger = leveledLogger{}
