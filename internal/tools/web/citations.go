package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
)

const maxResponseBytes = 4 << 20

type citationsKey struct{}

type citationSet struct {
	mu   sync.Mutex
	urls []string
}

func (c *citationSet) set(urls []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls = urls
}

func (c *citationSet) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.urls
}

func withCitations(ctx context.Context) (context.Context, *citationSet) {
	c := &citationSet{}
	return context.WithValue(ctx, citationsKey{}, c), c
}

// citationTransport reads successful responses for requests that carry a
// citationSet and records the "citations" array before handing the body on.
type citationTransport struct {
	base http.RoundTripper
}

func (t *citationTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	set, ok := req.Context().Value(citationsKey{}).(*citationSet)
	if !ok || resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	var envelope struct {
		Citations []string `json:"citations"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		set.set(envelope.Citations)
	}
	return resp, nil
}

func transportOf(c *http.Client) http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	return http.DefaultTransport
}
