package market

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/Jeffail/gabs/v2"
	"github.com/stretchr/testify/require"
)

// rec parses doc the way the upstream client does, numbers as json.Number.
func rec(t *testing.T, doc string) Record {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(doc))
	dec.UseNumber()
	parsed, err := gabs.ParseJSONDecoder(dec)
	require.NoError(t, err)
	return parsed
}

func recs(t *testing.T, docs ...string) []Record {
	t.Helper()
	out := make([]Record, len(docs))
	for i, d := range docs {
		out[i] = rec(t, d)
	}
	return out
}

type fakeResponse struct {
	doc string
	err error
}

// fakeFetcher serves canned documents per URL and records every call.
type fakeFetcher struct {
	t         *testing.T
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     []string
	params    []url.Values
}

func newFakeFetcher(t *testing.T) *fakeFetcher {
	return &fakeFetcher{t: t, responses: map[string]fakeResponse{}}
}

func (f *fakeFetcher) serve(u, doc string) *fakeFetcher {
	f.responses[u] = fakeResponse{doc: doc}
	return f
}

func (f *fakeFetcher) fail(u string, err error) *fakeFetcher {
	f.responses[u] = fakeResponse{err: err}
	return f
}

func (f *fakeFetcher) Get(ctx context.Context, rawURL string, params url.Values) (Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.params = append(f.params, params)
	resp, ok := f.responses[rawURL]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNoRoute
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return rec(f.t, resp.doc), nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fetchError string

func (e fetchError) Error() string { return string(e) }

const errNoRoute = fetchError("no route")
