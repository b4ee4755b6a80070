package llm

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/unicode"
)

// Verdict is the classifier's decision about a failed response.
type Verdict struct {
	Retryable bool
	Category  Category
	Message   string
}

// Classifier maps an upstream status code and raw body to a Verdict.
// It is only consulted for responses that are not a parseable 200.
type Classifier interface {
	Classify(status int, body []byte) Verdict
}

// KeywordClassifier scans failure bodies for known keywords. The upstream API
// has no structured error codes, so the heuristics live here and nowhere else.
type KeywordClassifier struct{}

const parseErrorMessage = "response could not be parsed."

var (
	retryableStatus = map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
	}

	statusMessages = map[int]string{
		http.StatusTooManyRequests:     "rate limit exceeded (429)",
		http.StatusInternalServerError: "upstream internal server error (500)",
		http.StatusBadGateway:          "bad gateway (502)",
		http.StatusServiceUnavailable:  "upstream service unavailable (503)",
		http.StatusGatewayTimeout:      "gateway timeout (504)",
	}

	quotaKeywords    = []string{"quota", "limit", "usage", "exceed"}
	overloadKeywords = []string{"overloaded_error"}
)

// Classify implements Classifier. The first matching rule wins:
//  1. 200 with an unparseable body is a ParseError.
//  2. 429/500/502/503/504 are retryable; quota keywords turn them into a
//     terminal QuotaExceeded, otherwise overloaded_error or 429 means
//     Overloaded, 504 means Timeout, and anything else is a GatewayError.
//  3. Every other status is a terminal Unknown, or QuotaExceeded when the
//     body carries quota keywords.
func (KeywordClassifier) Classify(status int, body []byte) Verdict {
	if status == http.StatusOK {
		return Verdict{Category: CategoryParseError, Message: parseErrorMessage}
	}

	text := cases.Fold().String(DecodeBody(body))
	quota := containsAny(text, quotaKeywords)
	msg := statusMessage(status)

	if retryableStatus[status] {
		switch {
		case quota:
			return Verdict{Category: CategoryQuotaExceeded, Message: msg}
		case containsAny(text, overloadKeywords) || status == http.StatusTooManyRequests:
			return Verdict{Retryable: true, Category: CategoryOverloaded, Message: msg}
		case status == http.StatusGatewayTimeout:
			return Verdict{Retryable: true, Category: CategoryTimeout, Message: msg}
		default:
			return Verdict{Retryable: true, Category: CategoryGatewayError, Message: msg}
		}
	}

	if quota {
		return Verdict{Category: CategoryQuotaExceeded, Message: msg}
	}
	return Verdict{Category: CategoryUnknown, Message: msg}
}

// DecodeBody converts a response body to a string, replacing invalid UTF-8
// with U+FFFD.
func DecodeBody(body []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(body)
	if err != nil {
		return strings.ToValidUTF8(string(body), "\uFFFD")
	}
	return string(out)
}

func statusMessage(status int) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return fmt.Sprintf("status code %d", status)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
