package session

import "net/http"

// Locator extracts a session id from an inbound request given a Location
// describing where to look for it.
type Locator interface {
	Locate(loc *Location, r *http.Request) (string, bool)
}

// DefaultLocator reads the session id from either a header or a query
// parameter, depending on the Location's Kind.
type DefaultLocator struct{}

// Locate implements Locator.
func (DefaultLocator) Locate(loc *Location, r *http.Request) (string, bool) {
	if loc == nil {
		return "", false
	}
	switch loc.Kind {
	case "query":
		v := r.URL.Query().Get(loc.Name)
		return v, v != ""
	default: // "header" and unset default to header lookup
		v := r.Header.Get(loc.Name)
		return v, v != ""
	}
}
