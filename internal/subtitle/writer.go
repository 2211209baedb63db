package subtitle

import (
	"bytes"
	"fmt"
	"time"
)

// Serialize renders entries as SRT.
func Serialize(entries []Entry) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&buf, "%d\n", e.Index)
		fmt.Fprintf(&buf, "%s --> %s\n", FormatTimestamp(e.Start), FormatTimestamp(e.End))
		for _, line := range e.Lines {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// FormatTimestamp formats d in SRT time format.
func FormatTimestamp(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, milliseconds)
}

// Renumber returns a copy of entries indexed 1..N in order.
func Renumber(entries []Entry) []Entry {
	out := CloneEntries(entries)
	for i := range out {
		out[i].Index = i + 1
	}
	return out
}
