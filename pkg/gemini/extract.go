package gemini

import (
	"math"

	"github.com/tidwall/gjson"
)

// ExtractText returns the text of the first part of the first candidate in a
// generateContent response. Any structural deviation yields "".
func ExtractText(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	text, _ := candidateText(gjson.ParseBytes(raw))
	return text
}

// ExtractTokenCount returns the top-level totalTokens integer of a
// countTokens response, or -1.
func ExtractTokenCount(raw []byte) int {
	if !gjson.ValidBytes(raw) {
		return -1
	}
	n, ok := totalTokens(gjson.ParseBytes(raw))
	if !ok {
		return -1
	}
	return n
}

// ExtractStream decodes a streamGenerateContent body. It reports false when
// the top-level value is not an array. Otherwise it returns one entry per
// array element; elements without candidate text map to "".
func ExtractStream(raw []byte) ([]string, bool) {
	if !gjson.ValidBytes(raw) {
		return nil, false
	}
	root := gjson.ParseBytes(raw)
	if !root.IsArray() {
		return nil, false
	}
	elems := root.Array()
	out := make([]string, len(elems))
	for i, el := range elems {
		out[i], _ = candidateText(el)
	}
	return out, true
}

// candidateText walks candidates[0].content.parts[0].text. The bool is false
// when any step is absent or has the wrong type.
func candidateText(v gjson.Result) (string, bool) {
	cand, ok := firstElem(field(v, "candidates"))
	if !ok {
		return "", false
	}
	part, ok := firstElem(field(field(cand, "content"), "parts"))
	if !ok {
		return "", false
	}
	text := field(part, "text")
	if text.Type != gjson.String {
		return "", false
	}
	return text.Str, true
}

func totalTokens(v gjson.Result) (int, bool) {
	n := field(v, "totalTokens")
	if n.Type != gjson.Number {
		return 0, false
	}
	if n.Num != math.Trunc(n.Num) || n.Num < math.MinInt32 || n.Num > math.MaxInt32 {
		return 0, false
	}
	return int(n.Num), true
}

// field looks up key on an object. Non-objects yield an empty Result, so
// lookups compose without intermediate checks.
func field(v gjson.Result, key string) gjson.Result {
	if !v.IsObject() {
		return gjson.Result{}
	}
	return v.Get(key)
}

// firstElem returns element 0 of a non-empty array whose first element is an
// object.
func firstElem(v gjson.Result) (gjson.Result, bool) {
	if !v.IsArray() {
		return gjson.Result{}, false
	}
	elems := v.Array()
	if len(elems) == 0 || !elems[0].IsObject() {
		return gjson.Result{}, false
	}
	return elems[0], true
}
