package collyfetcher

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
)

// rawBodyTransport drops the charset parameter from the response content
// type. Colly re-encodes bodies with a non-UTF-8 charset, which would
// contradict the encoding named in the XML declaration; the XML parser
// decodes from the declaration instead.
type rawBodyTransport struct {
	base http.RoundTripper
}

func (t *rawBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("raw body transport received nil request")
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("raw body transport roundtrip: %w", err)
	}
	stripCharset(resp.Header)
	return resp, nil
}

func stripCharset(h http.Header) {
	ct := h.Get("Content-Type")
	if ct == "" {
		return
	}
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return
	}
	if _, ok := params["charset"]; !ok {
		return
	}
	delete(params, "charset")
	h.Set("Content-Type", mime.FormatMediaType(mediaType, params))
}
