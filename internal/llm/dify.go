package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"dify-chat/internal/retry"
)

const (
	DefaultEndpoint = "https://api.dify.ai/v1/chat-messages"

	defaultAttemptTimeout = 30 * time.Second
	defaultMaxAttempts    = 3
	defaultBackoffBase    = time.Second
	maxResponseBytes      = 4 << 20

	responseModeBlocking = "blocking"
	endUser              = "user"

	// PlaceholderAnswer is returned when a successful response has no answer field.
	PlaceholderAnswer = "回答を生成できませんでした。"
)

// Recorder receives per-attempt and per-query observations.
type Recorder interface {
	Attempt(result string)
	Outcome(o Outcome, elapsed time.Duration)
}

// Options configures a DifyClient. Zero values fall back to defaults.
type Options struct {
	Endpoint    string
	APIKey      string
	Timeout     time.Duration // per attempt
	MaxAttempts int
	BackoffBase time.Duration // delay before attempt n (n >= 1) is BackoffBase * 2^n

	HTTPClient *http.Client
	Classifier Classifier
	Messages   Localizer
	Recorder   Recorder
	Sleep      retry.SleepFunc
	Log        *slog.Logger
}

// DifyClient calls a Dify chat-messages endpoint in blocking mode, retrying
// transient failures with exponential backoff.
type DifyClient struct {
	endpoint    string
	apiKey      string
	timeout     time.Duration
	maxAttempts int
	backoffBase time.Duration

	http       *http.Client
	classifier Classifier
	messages   Localizer
	recorder   Recorder
	sleep      retry.SleepFunc
	log        *slog.Logger
}

type chatRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	ConversationID string         `json:"conversation_id"`
	User           string         `json:"user"`
}

type chatResponse struct {
	Answer         *string `json:"answer"`
	ConversationID string  `json:"conversation_id"`
}

// attempt is the raw result of one network round trip.
type attempt struct {
	status int
	body   []byte
}

// NewDifyClient builds a client against opts.Endpoint (or the public Dify API).
func NewDifyClient(opts Options) (*DifyClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	c := &DifyClient{
		endpoint:    opts.Endpoint,
		apiKey:      opts.APIKey,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
		http:        opts.HTTPClient,
		classifier:  opts.Classifier,
		messages:    opts.Messages,
		recorder:    opts.Recorder,
		sleep:       opts.Sleep,
		log:         opts.Log,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.timeout <= 0 {
		c.timeout = defaultAttemptTimeout
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.backoffBase <= 0 {
		c.backoffBase = defaultBackoffBase
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.classifier == nil {
		c.classifier = KeywordClassifier{}
	}
	if c.messages == nil {
		c.messages = reasonLocalizer{}
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	if c.sleep == nil {
		c.sleep = retry.Sleep
	}
	if c.log == nil {
		c.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}

// Send implements Client.
func (c *DifyClient) Send(ctx context.Context, q Query) Outcome {
	start := time.Now()
	log := c.log.With("conversation_id", q.ConversationID)

	out := c.send(ctx, q, log)
	if out.Success {
		log.Info("chat answered", "attempts", out.Attempts, "duration_ms", time.Since(start).Milliseconds())
	} else {
		out.UserMessage = c.messages.Message(out.Category, out.Reason)
		log.Error("chat failed", "category", out.Category, "reason", out.Reason, "attempts", out.Attempts)
	}
	c.recorder.Outcome(out, time.Since(start))
	return out
}

func (c *DifyClient) send(ctx context.Context, q Query, log *slog.Logger) Outcome {
	payload, err := json.Marshal(chatRequest{
		Inputs:         map[string]any{},
		Query:          q.Text,
		ResponseMode:   responseModeBlocking,
		ConversationID: q.ConversationID,
		User:           endUser,
	})
	if err != nil {
		return Failed(CategoryUnknown, err.Error(), "", 0)
	}

	for i := 0; i < c.maxAttempts; i++ {
		if i > 0 {
			if err := c.sleep(ctx, retry.ExponentialBackoff(i, c.backoffBase)); err != nil {
				return Failed(CategoryUnknown, fmt.Sprintf("request cancelled: %v", err), "", i)
			}
		}
		n := i + 1

		res, err := c.do(ctx, payload)
		if err != nil {
			if isTimeout(ctx, err) {
				c.recorder.Attempt("timeout")
				log.Warn("chat attempt timed out", "attempt", n, "max_attempts", c.maxAttempts)
				continue
			}
			c.recorder.Attempt("transport_error")
			return Failed(CategoryUnknown, err.Error(), "", n)
		}
		c.recorder.Attempt(strconv.Itoa(res.status))

		if res.status == http.StatusOK {
			var body *chatResponse
			if err := json.Unmarshal(res.body, &body); err != nil || body == nil {
				return Failed(CategoryParseError, parseErrorMessage, DecodeBody(res.body), n)
			}
			answer := PlaceholderAnswer
			if body.Answer != nil {
				answer = *body.Answer
			}
			return Succeeded(answer, body.ConversationID, n)
		}

		v := c.classifier.Classify(res.status, res.body)
		if v.Retryable && n < c.maxAttempts {
			log.Warn("chat attempt failed, retrying", "attempt", n, "status", res.status, "category", v.Category)
			continue
		}
		return Failed(v.Category, v.Message, DecodeBody(res.body), n)
	}

	return Failed(CategoryTimeout, fmt.Sprintf("request timed out after %d attempts", c.maxAttempts), "", c.maxAttempts)
}

func (c *DifyClient) do(ctx context.Context, payload []byte) (attempt, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return attempt{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return attempt{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return attempt{}, err
	}
	return attempt{status: resp.StatusCode, body: body}, nil
}

// isTimeout reports whether err is a per-attempt timeout rather than the
// caller giving up.
func isTimeout(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type reasonLocalizer struct{}

func (reasonLocalizer) Message(c Category, reason string) string {
	if reason == "" {
		return string(c)
	}
	return reason
}

type nopRecorder struct{}

func (nopRecorder) Attempt(string) {}
func (nopRecorder) Outcome(Outcome, time.Duration) {}
