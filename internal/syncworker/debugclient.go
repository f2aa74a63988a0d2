package syncworker

import (
	"net/http"
	"time"

	"github.com/warpcomdev/edgevisiond/internal/servicelog"
)

// debugRoundTripper logs every outbound sync request before delegating to
// the wrapped transport: the same request-logging wrapper shape as the
// teacher's debugClient, adapted from a custom Do-only client interface to
// the standard http.RoundTripper so it composes with any *http.Client.
type debugRoundTripper struct {
	next http.RoundTripper
	log  servicelog.Logger
}

// NewDebugClient wraps client's transport so every request it sends is
// logged at debug level, without altering its timeout or cookie jar.
func NewDebugClient(client *http.Client, log servicelog.Logger) *http.Client {
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = &debugRoundTripper{next: next, log: log}
	return &wrapped
}

func (d *debugRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	logger := d.log.With(
		servicelog.String("method", req.Method),
		servicelog.String("url", req.URL.String()),
	)
	resp, err := d.next.RoundTrip(req)
	logger.Debug("sync http request", servicelog.Duration("elapsed", time.Since(start)))
	return resp, err
}
