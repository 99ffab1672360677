package webhook

import (
	"bytes"
	"encoding/json"
	"strings"
)

// unprocessedText is returned when a parsed body holds no usable reply.
const unprocessedText = "I received your message but couldn't process the response. Please try again."

// replyFields lists the upstream field names that may carry the reply, in
// priority order.
var replyFields = []string{"content", "response", "message", "answer", "text", "reply", "output", "result"}

var metadataFields = map[string]struct{}{
	"timestamp": {},
	"userId":    {},
}

// ExtractText finds the human-readable reply inside a decoded object. Known
// reply fields win in priority order; otherwise the first non-metadata string
// value in key order is used.
func ExtractText(obj *fields) string {
	if obj == nil {
		return unprocessedText
	}
	for _, name := range replyFields {
		raw, ok := obj.Get(name)
		if !ok {
			continue
		}
		if s, ok := nonEmptyString(raw); ok {
			return s
		}
	}
	for pair := obj.Oldest(); pair != nil; pair = pair.Next() {
		if _, skip := metadataFields[pair.Key]; skip {
			continue
		}
		if s, ok := nonEmptyString(pair.Value); ok {
			return s
		}
	}
	return unprocessedText
}

// extractFromValue handles bodies whose top-level JSON value is not an
// object: a bare string is the reply, and an array yields the reply of its
// first element that has one.
func extractFromValue(value json.RawMessage) string {
	if s, ok := nonEmptyString(value); ok {
		return s
	}
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return unprocessedText
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return unprocessedText
	}
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}
		if item[0] == '{' {
			if obj, ok := decodeObject(item); ok {
				if text := ExtractText(obj); text != unprocessedText {
					return text
				}
			}
			continue
		}
		if s, ok := nonEmptyString(item); ok {
			return s
		}
	}
	return unprocessedText
}

func nonEmptyString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
