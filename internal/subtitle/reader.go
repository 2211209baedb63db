package subtitle

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
)

var timeRangeRe = regexp.MustCompile(`^(\d{1,3}):(\d{2}):(\d{2})[,.](\d{3})\s*-->\s*(\d{1,3}):(\d{2}):(\d{2})[,.](\d{3})(?:\s.*)?$`)

// ParseSRT is a tolerant SRT reader: it skips garbage between blocks and
// does not check timing. Use Validate for untrusted input.
func ParseSRT(data []byte) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(normalize(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	current := Entry{}
	state := "index" // possible values: "index", "time", "text"
	var textLines []string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch state {
		case "index":
			if line == "" {
				continue
			}
			index, err := strconv.Atoi(line)
			if err != nil {
				continue // skip non-index lines
			}
			current.Index = index
			state = "time"

		case "time":
			if line == "" {
				continue
			}
			start, end, err := parseTimeRange(line)
			if err != nil {
				return nil, fmt.Errorf("failed to parse time: %w", err)
			}
			current.Start = start
			current.End = end
			state = "text"
			textLines = nil

		case "text":
			if line == "" {
				if len(textLines) > 0 {
					current.Lines = textLines
					entries = append(entries, current)
					current = Entry{}
				}
				state = "index"
				textLines = nil
			} else {
				textLines = append(textLines, line)
			}
		}
	}

	// handle last subtitle group
	if state == "text" && len(textLines) > 0 {
		current.Lines = textLines
		entries = append(entries, current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtitle data: %w", err)
	}
	return entries, nil
}

func normalize(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))
}

// parseTimeRange parses "00:02:16,612 --> 00:02:19,376".
func parseTimeRange(s string) (time.Duration, time.Duration, error) {
	matches := timeRangeRe.FindStringSubmatch(strings.TrimSpace(s))
	if len(matches) != 9 {
		return 0, 0, fmt.Errorf("invalid time format: %s", s)
	}

	start, err := parseTimestamp(matches[1], matches[2], matches[3], matches[4])
	if err != nil {
		return 0, 0, err
	}
	end, err := parseTimestamp(matches[5], matches[6], matches[7], matches[8])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseTimestamp(hours, minutes, seconds, milliseconds string) (time.Duration, error) {
	h, _ := strconv.Atoi(hours)
	m, _ := strconv.Atoi(minutes)
	s, _ := strconv.Atoi(seconds)
	ms, _ := strconv.Atoi(milliseconds)
	if m > 59 || s > 59 {
		return 0, fmt.Errorf("timestamp out of range: %s:%s:%s,%s", hours, minutes, seconds, milliseconds)
	}

	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

// DetectLanguage returns the ISO 639-1 code most entries are written in,
// or "" when nothing could be detected. Ties resolve alphabetically.
func DetectLanguage(entries []Entry) string {
	counts := make(map[string]int)
	for _, e := range entries {
		lang := whatlanggo.DetectLang(e.Text()).Iso6391()
		if lang == "" {
			continue
		}
		counts[lang]++
	}
	if len(counts) == 0 {
		return ""
	}

	langs := make([]string, 0, len(counts))
	for lang := range counts {
		langs = append(langs, lang)
	}
	sort.Slice(langs, func(i, j int) bool {
		if counts[langs[i]] != counts[langs[j]] {
			return counts[langs[i]] > counts[langs[j]]
		}
		return langs[i] < langs[j]
	})
	return langs[0]
}
