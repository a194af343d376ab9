package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DecodeJSON unmarshals generated text into target. Models often wrap the
// object in a markdown fence or a sentence, so progressively looser candidates
// are tried and the first decode error is reported.
func DecodeJSON(content string, target any) error {
	candidates := jsonCandidates(content)
	if len(candidates) == 0 {
		return errors.New("empty payload")
	}
	var firstErr error
	for _, c := range candidates {
		err := json.Unmarshal([]byte(c), target)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return fmt.Errorf("%w (payload: %s)", firstErr, snippet(candidates[0]))
}

// jsonCandidates returns the distinct strings worth decoding: the raw text, the
// fence body, then the outermost {...} span of that body.
func jsonCandidates(content string) []string {
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		for _, seen := range out {
			if seen == s {
				return
			}
		}
		out = append(out, s)
	}
	add(content)
	body := unfence(content)
	add(body)
	if start, end := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}'); start >= 0 && end > start {
		add(body[start : end+1])
	}
	return out
}

// unfence returns the body of a ``` block, dropping a language tag line.
func unfence(content string) string {
	s := strings.TrimSpace(content)
	rest, ok := strings.CutPrefix(s, "```")
	if !ok {
		return s
	}
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
		rest = rest[nl+1:]
	}
	rest, _, _ = strings.Cut(rest, "```")
	return strings.TrimSpace(rest)
}

func snippet(content string) string {
	r := []rune(strings.Join(strings.Fields(content), " "))
	if len(r) > 160 {
		return string(r[:160]) + "..."
	}
	return string(r)
}
