// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"strings"
)

// turnMarkerPrefix tags a line written to a worker's own stdout (and
// so into the instance's tailed log file) as a structured
// turn-boundary signal rather than a plain conversation entry.
// lib/controlserver's log tailer recognizes the prefix and surfaces a
// proper turn-complete/turn-truncated Event instead of relaying the
// line as log-entry text, then stops relaying for a chat stream.
const turnMarkerPrefix = "\x01ago-turn\x01"

// EncodeTurnMarker renders kind/text as one line carrying a
// turn-boundary marker, for a worker to write to its output.
func EncodeTurnMarker(kind EventKind, text string) string {
	return fmt.Sprintf("%s%s\t%s", turnMarkerPrefix, kind, strings.ReplaceAll(text, "\n", " "))
}

// ParseTurnMarker reports whether line is a turn-boundary marker
// previously produced by [EncodeTurnMarker], returning its kind and
// text if so.
func ParseTurnMarker(line string) (kind EventKind, text string, ok bool) {
	line = strings.TrimRight(line, "\n")
	rest, found := strings.CutPrefix(line, turnMarkerPrefix)
	if !found {
		return "", "", false
	}
	k, t, _ := strings.Cut(rest, "\t")
	return EventKind(k), t, true
}
