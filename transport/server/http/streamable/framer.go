package streamable

// frameJSON appends a new line to ensure that each JSON message is written as a single line.
// The client side reader relies on a new line as a message delimiter.
// If the payload already contains a trailing new line the data is returned unmodified.
import (
	"fmt"
	"strings"
)

// frameJSON is kept for compatibility with earlier code (id-less framing).
func frameJSON(data []byte) []byte {
	n := len(data)
	if n == 0 {
		return []byte("\n")
	}
	if data[n-1] == '\n' {
		return data
	}
	framed := make([]byte, n+1)
	copy(framed, data)
	framed[n] = '\n'
	return framed
}

// frameSSE formats the data using SSE event/format framing.
func frameSSE(data []byte) []byte {
	return []byte(fmt.Sprintf("event: message\ndata: %s\n\n", strings.TrimSpace(string(data))))
}
