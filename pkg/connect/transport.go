// Package connect drives a printer over a line-oriented transport. The
// connection owns the session state and the stage chain: a single send
// loop pulls one line at a time from the chain, writes it to the
// transport, and waits for the firmware acknowledgment before pulling
// again. All blocking I/O, timeouts and retries live here; the chain
// itself never blocks.
package connect

import (
	"strconv"
	"strings"
)

// Transport is the physical link to the printer. WriteLine sends one
// framed command line; ReadLine blocks for the next response line up to
// the transport's configured read timeout. pkg/serial provides the
// production implementation.
type Transport interface {
	WriteLine(line string) error
	ReadLine() (string, error)
	Close() error
}

type responseKind int

const (
	// respInfo is unsolicited chatter: temperature reports, echo
	// lines, busy notices. The send loop keeps waiting.
	respInfo responseKind = iota

	// respOK acknowledges the last transmitted line.
	respOK

	// respResend asks the host to retransmit from a line number.
	respResend

	// respError is a firmware-reported error, fatal to the session.
	respError
)

type response struct {
	kind   responseKind
	resend int    // valid when kind == respResend
	text   string // trimmed response line
}

// parseResponse classifies one firmware response line. The grammar is
// the RepRap/Marlin host protocol: "ok [...]", "Resend: <n>" (short
// form "rs <n>"), "Error:<msg>" or "!!" prefixed fatal errors, and
// everything else informational.
func parseResponse(raw string) response {
	line := strings.TrimSpace(raw)
	lower := strings.ToLower(line)

	switch {
	case lower == "ok" || strings.HasPrefix(lower, "ok "):
		return response{kind: respOK, text: line}

	case strings.HasPrefix(lower, "resend:"), strings.HasPrefix(lower, "rs "):
		rest := strings.TrimSpace(line[strings.IndexAny(line, ": ")+1:])
		n, err := strconv.Atoi(rest)
		if err != nil {
			// Unparseable resend request: treat as chatter rather
			// than guess a line number.
			return response{kind: respInfo, text: line}
		}
		return response{kind: respResend, resend: n, text: line}

	case strings.HasPrefix(lower, "error:"):
		return response{kind: respError, text: strings.TrimSpace(line[len("error:"):])}

	case strings.HasPrefix(line, "!!"):
		return response{kind: respError, text: strings.TrimSpace(line[2:])}
	}
	return response{kind: respInfo, text: line}
}
