package listing

import (
	"net/url"
	"strconv"
)

// Query parameter names understood by the listing API.
const (
	ParamLimit       = "limit"
	ParamOffset      = "offset"
	ParamShowExpired = "showExpired"
)

// PageRequest selects one page of a listing.
type PageRequest struct {
	Limit       int
	Offset      int
	ShowExpired bool
}

// Query returns the request encoded as query parameters.
func (r PageRequest) Query() url.Values {
	q := url.Values{}
	q.Set(ParamLimit, strconv.Itoa(r.Limit))
	q.Set(ParamOffset, strconv.Itoa(r.Offset))
	q.Set(ParamShowExpired, strconv.FormatBool(r.ShowExpired))
	return q
}

// URL returns target with the page parameters applied. Existing query
// parameters on target are kept unless they collide with a page parameter.
func (r PageRequest) URL(target *url.URL) *url.URL {
	u := *target
	q := u.Query()
	for key, values := range r.Query() {
		q[key] = values
	}
	u.RawQuery = q.Encode()
	return &u
}
