package webhook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"farm-assistant/internal/domain"
)

func TestParseBody_DirectObject(t *testing.T) {
	resp := ParseBody(`{"response":"Hello farmer"}`)
	require.Equal(t, "Hello farmer", resp.Text)
	require.True(t, resp.Success)
	require.Equal(t, domain.ErrorNone, resp.Error)
	require.Nil(t, resp.RawResponse)
	require.Nil(t, resp.ContentParts)
}

func TestParseBody_StreamingFragments(t *testing.T) {
	body := "{\"type\":\"begin\"}\n" +
		"{\"type\":\"item\",\"content\":\"Plant in April.\"}\n" +
		"{\"type\":\"item\",\"content\":\"Water daily.\"}\n" +
		"{\"type\":\"end\"}"

	resp := ParseBody(body)
	require.Equal(t, "Plant in April. Water daily.", resp.Text)
	require.True(t, resp.Success)
	require.NotNil(t, resp.ContentParts)
	require.Equal(t, 2, *resp.ContentParts)
}

func TestParseBody_FragmentOrderSurvivesNoise(t *testing.T) {
	body := strings.Join([]string{
		`{"type":"begin","metadata":{"node":"agent"}}`,
		`{"type":"item","content":"A"}`,
		`{"type":"item","content": broken`,
		`not json at all`,
		`{"type":"item","content":"B"}`,
		`{"type":"item","content":42}`,
		`{"type":"item","content":""}`,
		`{"type":"other","content":"C"}`,
		`{"type":"end"}`,
	}, "\n")

	resp := ParseBody(body)
	require.Equal(t, "A B C", resp.Text)
	require.Equal(t, 3, *resp.ContentParts)
}

func TestParseBody_FragmentsWithCRLF(t *testing.T) {
	resp := ParseBody("{\"content\":\" first \"}\r\n{\"content\":\"second\"}\r\n")
	require.Equal(t, "first  second", resp.Text)
	require.Equal(t, 2, *resp.ContentParts)
}

func TestParseBody_WhitespaceFragmentsAreNotCounted(t *testing.T) {
	body := "{\"type\":\"item\",\"content\":\"Mulch\"}\n" +
		"{\"type\":\"item\",\"content\":\"   \"}\n" +
		"{\"type\":\"item\",\"content\":\"beds.\"}"
	resp := ParseBody(body)
	require.True(t, resp.Success)
	require.Equal(t, "Mulch beds.", resp.Text)
	require.NotNil(t, resp.ContentParts)
	require.Equal(t, 2, *resp.ContentParts)

	// Only blank fragments: nothing to join, and the combined braces do not salvage.
	resp = ParseBody("{\"content\":\" \"}\n{\"content\":\"\"}")
	require.False(t, resp.Success)
	require.Equal(t, domain.ErrorMalformedResponse, resp.Error)
	require.Nil(t, resp.ContentParts)
}

func TestParseBody_Salvaged(t *testing.T) {
	resp := ParseBody(`workflow says: {"answer":"Rotate maize with beans."} -- end`)
	require.Equal(t, "Rotate maize with beans.", resp.Text)
	require.True(t, resp.Success)
	require.Nil(t, resp.ContentParts)
}

func TestParseBody_Unparseable(t *testing.T) {
	resp := ParseBody("garbage not json at all")
	require.False(t, resp.Success)
	require.Equal(t, domain.ErrorMalformedResponse, resp.Error)
	require.Equal(t, "Received response but couldn't parse it properly. Raw response: garbage not json at all", resp.Text)
	require.NotNil(t, resp.RawResponse)
	require.Equal(t, "garbage not json at all", *resp.RawResponse)
}

func TestParseBody_TruncatesPreview(t *testing.T) {
	body := strings.Repeat("x", 500)
	resp := ParseBody(body)
	require.Equal(t, domain.ErrorMalformedResponse, resp.Error)
	require.Equal(t, malformedPrefix+strings.Repeat("x", 200)+"...", resp.Text)
	require.Equal(t, body, *resp.RawResponse)
}

func TestParseBody_ConcatenatedObjectsAreUnparseable(t *testing.T) {
	resp := ParseBody(`{"a":"one"}{"b":"two"}`)
	require.Equal(t, domain.ErrorMalformedResponse, resp.Error)
}

func TestParseBody_NeverPanics(t *testing.T) {
	inputs := []string{
		"",
		" ",
		"\n\n\n",
		"{",
		"}",
		"}{",
		`{"content":`,
		`"content"`,
		"null",
		"[]",
		"[1,2,3]",
		"42",
		`{"response":null}`,
		"\x00\xff\xfe",
		strings.Repeat(`{"content":"`, 100),
	}
	for _, in := range inputs {
		require.NotPanics(t, func() {
			resp := ParseBody(in)
			require.NotEmpty(t, resp.Text, "input=%q", in)
		})
	}
}

func TestParseBody_Idempotent(t *testing.T) {
	bodies := []string{
		`{"message":"X","output":"Y"}`,
		"{\"content\":\"A\"}\n{\"content\":\"B\"}",
		"junk",
		`pre {"reply":"ok"} post`,
	}
	for _, body := range bodies {
		require.Equal(t, ParseBody(body), ParseBody(body))
	}
}

func TestParseBody_TopLevelString(t *testing.T) {
	resp := ParseBody(`"  Harvest after the rains.  "`)
	require.Equal(t, "Harvest after the rains.", resp.Text)
	require.True(t, resp.Success)
}

func TestParseBody_TopLevelArray(t *testing.T) {
	resp := ParseBody(`[{"metadata":{}},{"output":"Sell at the cooperative."}]`)
	require.Equal(t, "Sell at the cooperative.", resp.Text)
}

func TestParseBody_ObjectWithoutReply(t *testing.T) {
	resp := ParseBody(`{"timestamp":"2026-01-01T00:00:00Z","userId":"u-1","count":3}`)
	require.Equal(t, unprocessedText, resp.Text)
	require.True(t, resp.Success)
}

func TestExtractText_FieldPriority(t *testing.T) {
	obj, ok := decodeObject([]byte(`{"output":"Y","message":"X"}`))
	require.True(t, ok)
	require.Equal(t, "X", ExtractText(obj))
}

func TestExtractText_SkipsBlankPriorityFields(t *testing.T) {
	obj, ok := decodeObject([]byte(`{"content":"   ","response":"","answer":" Use compost. "}`))
	require.True(t, ok)
	require.Equal(t, "Use compost.", ExtractText(obj))
}

func TestExtractText_FallsBackToFirstStringInKeyOrder(t *testing.T) {
	obj, ok := decodeObject([]byte(`{"timestamp":"t","userId":"u","count":1,"zeta":"first","alpha":"second"}`))
	require.True(t, ok)
	require.Equal(t, "first", ExtractText(obj))
}

func TestExtractText_Nil(t *testing.T) {
	require.Equal(t, unprocessedText, ExtractText(nil))
}

func TestDecodeBody_Shapes(t *testing.T) {
	cases := []struct {
		body string
		want Shape
	}{
		{`{"text":"hi"}`, ShapeDirect},
		{`"hi"`, ShapeDirect},
		{"{\"content\":\"a\"}\n{\"content\":\"b\"}", ShapeFragments},
		{`noise {"text":"hi"} noise`, ShapeSalvaged},
		{`noise`, ShapeUnparseable},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, decodeBody(tc.body).shape, "body=%q", tc.body)
	}
}

func TestPreview_CountsCharactersNotBytes(t *testing.T) {
	s := strings.Repeat("é", 201)
	got := preview(s)
	require.Equal(t, strings.Repeat("é", 200)+"...", got)
}
