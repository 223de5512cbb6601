package observability

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewHTTPClient returns an http.Client instrumented with otelhttp transport.
func NewHTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	base.Transport = otelhttp.NewTransport(rt)
	return base
}

// WithHeaders returns a shallow copy of base whose transport injects the
// given headers into every outbound request without overwriting headers the
// caller already set. Used to attach provider API keys to LLM/embedding
// clients built on top of a shared instrumented client.
func WithHeaders(base *http.Client, headers map[string]string) *http.Client {
	clone := *base
	rt := clone.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	clone.Transport = headerTransport{rt: rt, headers: headers}
	return &clone
}

type headerTransport struct {
	rt      http.RoundTripper
	headers map[string]string
}

func (h headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range h.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return h.rt.RoundTrip(req)
}
