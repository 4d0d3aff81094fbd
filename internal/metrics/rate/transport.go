package rate

import (
	"net/http"
	"path"
)

// Transport wraps an http.RoundTripper and feeds every exchange response to a
// Reporter. SDK clients that accept an *http.Client get header based weight
// reporting this way without parsing responses themselves.
type Transport struct {
	Base     http.RoundTripper
	Reporter *Reporter
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil || t.Reporter == nil {
		return resp, err
	}
	t.Reporter.ObserveResponse(req.URL.Query().Get("symbol"), path.Base(req.URL.Path), resp)
	return resp, nil
}
