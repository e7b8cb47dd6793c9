package eviction

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

var (
	summaryKeys = []string{"summary", "title", "description", "message"}
	listKeys    = []string{"results", "items", "data", "entries", "records"}
)

const maxSummaryKeys = 20

// Summarize returns a short, best-effort description of content. It is a hint for
// the reader only and may mis-describe unusual payloads.
func Summarize(content string, cfg Config) string {
	trimmed := strings.TrimSpace(content)
	if gjson.Valid(trimmed) {
		parsed := gjson.Parse(trimmed)
		switch {
		case parsed.IsObject():
			if s := summarizeObject(parsed, cfg.SummaryMaxChars); s != "" {
				return s
			}
		case parsed.IsArray():
			return fmt.Sprintf("%d items", len(parsed.Array()))
		}
	}
	return preview(content, cfg.PreviewLines, cfg.PreviewChars)
}

func summarizeObject(obj gjson.Result, maxChars int) string {
	for _, key := range summaryKeys {
		v := obj.Get(key)
		if v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
			return truncateRunes(strings.TrimSpace(v.String()), maxChars)
		}
	}

	for _, key := range listKeys {
		v := obj.Get(key)
		if v.IsArray() {
			return fmt.Sprintf("%d items", len(v.Array()))
		}
	}

	keys := make([]string, 0, maxSummaryKeys)
	total := 0
	obj.ForEach(func(k, _ gjson.Result) bool {
		total++
		if len(keys) < maxSummaryKeys {
			keys = append(keys, k.String())
		}
		return true
	})
	if total == 0 {
		return ""
	}
	s := "keys: " + strings.Join(keys, ", ")
	if total > len(keys) {
		s += fmt.Sprintf(" (+%d more)", total-len(keys))
	}
	return s
}

func preview(content string, maxLines, maxChars int) string {
	lines := strings.SplitN(content, "\n", maxLines+1)
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	head := strings.Join(lines, "\n")
	return truncateRunes(head, maxChars)
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
