package jsonrpc

// sessionKeyType is an unexported type used for the context key that
// carries the active transport session so handlers can't collide with
// keys defined by other packages.
type sessionKeyType struct{}

// SessionKey is the context.Context key under which a transport session
// (e.g. *base.Session) is stored by server transports before invoking a
// Handler.
var SessionKey = sessionKeyType{}

// AsRequestIntId attempts to coerce a RequestId into an int, accepting
// the numeric JSON types that decode into RequestId (float64 from
// encoding/json, json.Number, and the native integer kinds). It reports
// false for string ids, nil ids and anything else that isn't a whole
// number.
func AsRequestIntId(id RequestId) (int, bool) {
	switch v := id.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	case float32:
		if v == float32(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}
