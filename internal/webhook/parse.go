package webhook

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"farm-assistant/internal/domain"
)

// Shape names the strategy that recovered a reply from a raw body.
type Shape string

const (
	ShapeDirect      Shape = "direct"
	ShapeFragments   Shape = "fragments"
	ShapeSalvaged    Shape = "salvaged"
	ShapeUnparseable Shape = "unparseable"
)

const (
	rawPreviewLen   = 200
	malformedPrefix = "Received response but couldn't parse it properly. Raw response: "
	contentMarker   = `"content"`
)

// fields is a decoded JSON object that keeps the upstream key order.
type fields = orderedmap.OrderedMap[string, json.RawMessage]

// decodedBody is the result of classifying a raw webhook body. Exactly one of
// obj, value or text is meaningful, depending on shape.
type decodedBody struct {
	shape Shape
	obj   *fields
	value json.RawMessage
	text  string
	parts int
}

// ParseBody turns a raw webhook body into a ChatResponse. It never panics and
// always returns renderable text.
func ParseBody(raw string) domain.ChatResponse {
	return decodeBody(raw).response(raw)
}

func decodeBody(raw string) decodedBody {
	if d, ok := decodeDirect(raw); ok {
		return d
	}
	if text, parts := joinFragments(raw); parts > 0 {
		return decodedBody{shape: ShapeFragments, text: text, parts: parts}
	}
	if obj, ok := salvageObject(raw); ok {
		return decodedBody{shape: ShapeSalvaged, obj: obj}
	}
	return decodedBody{shape: ShapeUnparseable}
}

func (d decodedBody) response(raw string) domain.ChatResponse {
	switch d.shape {
	case ShapeDirect, ShapeSalvaged:
		if d.obj != nil {
			return domain.ChatResponse{Text: ExtractText(d.obj), Success: true}
		}
		return domain.ChatResponse{Text: extractFromValue(d.value), Success: true}
	case ShapeFragments:
		parts := d.parts
		return domain.ChatResponse{Text: d.text, Success: true, ContentParts: &parts}
	default:
		body := raw
		return domain.ChatResponse{
			Text:        malformedPrefix + preview(raw),
			Success:     false,
			Error:       domain.ErrorMalformedResponse,
			RawResponse: &body,
		}
	}
}

// decodeDirect parses the whole body as a single JSON value.
func decodeDirect(raw string) (decodedBody, bool) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return decodedBody{}, false
	}
	if trimmed[0] == '{' {
		obj, ok := decodeObject(trimmed)
		if !ok {
			return decodedBody{}, false
		}
		return decodedBody{shape: ShapeDirect, obj: obj}, true
	}
	return decodedBody{shape: ShapeDirect, value: json.RawMessage(trimmed)}, true
}

// joinFragments rebuilds a reply from newline-delimited streaming events.
// Lines that fail to parse, or carry no usable content, are skipped; line
// order is the only ordering used.
func joinFragments(raw string) (string, int) {
	var parts []string
	for _, line := range strings.Split(raw, "\n") {
		if !strings.Contains(line, contentMarker) {
			continue
		}
		var frag struct {
			Content *string `json:"content"`
		}
		if err := json.Unmarshal([]byte(line), &frag); err != nil {
			continue
		}
		if frag.Content == nil || strings.TrimSpace(*frag.Content) == "" {
			continue
		}
		parts = append(parts, *frag.Content)
	}
	if len(parts) == 0 {
		return "", 0
	}
	return strings.TrimSpace(strings.Join(parts, " ")), len(parts)
}

// salvageObject parses the greedy substring from the first '{' to the last '}'.
func salvageObject(raw string) (*fields, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	candidate := []byte(raw[start : end+1])
	if !json.Valid(candidate) {
		return nil, false
	}
	return decodeObject(candidate)
}

func decodeObject(data []byte) (*fields, bool) {
	obj := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, obj); err != nil {
		return nil, false
	}
	return obj, true
}

// preview returns the first rawPreviewLen characters of s, with "..." appended
// when s was longer.
func preview(s string) string {
	if utf8.RuneCountInString(s) <= rawPreviewLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:rawPreviewLen]) + "..."
}
