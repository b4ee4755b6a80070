package llm

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestKeywordClassifier(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantCategory  Category
		wantRetryable bool
		wantMessage   string
	}{
		{"200 unparseable", 200, "<html>", CategoryParseError, false, "response could not be parsed."},
		{"429 plain", 429, "slow down", CategoryOverloaded, true, "rate limit exceeded (429)"},
		{"429 overloaded", 429, `{"type":"overloaded_error"}`, CategoryOverloaded, true, ""},
		{"429 overloaded with quota", 429, `{"type":"overloaded_error","message":"quota"}`, CategoryQuotaExceeded, false, ""},
		{"429 rate limit wording", 429, "Rate LIMIT reached", CategoryQuotaExceeded, false, ""},
		{"500 overloaded", 500, `{"error":{"type":"Overloaded_Error"}}`, CategoryOverloaded, true, "upstream internal server error (500)"},
		{"503 plain", 503, "Service Unavailable", CategoryGatewayError, true, "upstream service unavailable (503)"},
		{"502 plain", 502, "", CategoryGatewayError, true, "bad gateway (502)"},
		{"504 plain", 504, "upstream request timeout", CategoryTimeout, true, "gateway timeout (504)"},
		{"504 overloaded", 504, "overloaded_error", CategoryOverloaded, true, ""},
		{"504 usage", 504, "monthly USAGE", CategoryQuotaExceeded, false, ""},
		{"400 unknown", 400, `{"code":"invalid_param"}`, CategoryUnknown, false, "status code 400"},
		{"401 unknown", 401, "unauthorized", CategoryUnknown, false, "status code 401"},
		{"403 quota", 403, `{"message":"You exceeded your current quota"}`, CategoryQuotaExceeded, false, "status code 403"},
		{"418 overloaded is not retryable", 418, "overloaded_error", CategoryUnknown, false, ""},
	}

	var c KeywordClassifier
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Classify(tt.status, []byte(tt.body))
			assert.Equal(t, tt.wantCategory, v.Category)
			assert.Equal(t, tt.wantRetryable, v.Retryable)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, v.Message)
			}
		})
	}
}

func TestQuotaWinsOnEveryRetryableStatus(t *testing.T) {
	bodies := []string{
		"quota",
		`{"type":"overloaded_error","message":"quota"}`,
		"QUOTA exhausted, upstream timeout",
	}
	var c KeywordClassifier
	for _, status := range []int{429, 500, 502, 503, 504} {
		for _, body := range bodies {
			t.Run(fmt.Sprintf("%d/%s", status, body), func(t *testing.T) {
				v := c.Classify(status, []byte(body))
				assert.Equal(t, CategoryQuotaExceeded, v.Category)
				assert.False(t, v.Retryable)
			})
		}
	}
}

func TestClassifyInvalidUTF8(t *testing.T) {
	body := append([]byte{0xff, 0xfe, 0xc3}, []byte("overloaded_error")...)

	var v Verdict
	assert.NotPanics(t, func() {
		v = KeywordClassifier{}.Classify(503, body)
	})
	assert.Equal(t, CategoryOverloaded, v.Category)
	assert.True(t, v.Retryable)
}

func TestDecodeBody(t *testing.T) {
	got := DecodeBody([]byte{'o', 'k', 0xff, '!'})
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasPrefix(got, "ok"))
	assert.Contains(t, got, "�")
	assert.True(t, strings.HasSuffix(got, "!"))

	assert.Equal(t, "柔術", DecodeBody([]byte("柔術")))
	assert.Equal(t, "", DecodeBody(nil))
}
