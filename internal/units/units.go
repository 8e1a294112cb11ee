// Package units formats track lengths and positions for display.
package units

import (
	"fmt"
	"time"
)

// LiveLabel stands in for the length of a stream.
const LiveLabel = "LIVE"

// FormatDuration renders milliseconds as m:ss, or h:mm:ss from an hour up.
// Negative values render as 0:00.
func FormatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	d := time.Duration(ms) * time.Millisecond
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatLength is FormatDuration with streams shown as LiveLabel.
func FormatLength(ms int64, stream bool) string {
	if stream {
		return LiveLabel
	}
	return FormatDuration(ms)
}

// FormatProgress renders "position / length" for a playing track.
func FormatProgress(position, length int64, stream bool) string {
	if stream {
		return FormatDuration(position) + " / " + LiveLabel
	}
	if position > length {
		position = length
	}
	return FormatDuration(position) + " / " + FormatDuration(length)
}
