package transport

import "errors"

// errConnectionClosed is the sentinel wrapped by every adapter when the
// underlying connection is down (spec.md §4.1 failure model).
var errConnectionClosed = errors.New("transport: connection closed")
