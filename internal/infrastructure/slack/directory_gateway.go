package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"emojivote/internal/bootstrap/logging"
	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/errs"
	"emojivote/internal/ports"
)

const (
	aliasPrefix        = "alias:"
	maxAttachmentBytes = 8 << 20
)

// APIError is a well-formed Slack response with ok=false.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

// transient codes mean the service could not answer, as opposed to refusing the request.
var transientCodes = map[string]struct{}{
	"ratelimited":         {},
	"internal_error":      {},
	"fatal_error":         {},
	"service_unavailable": {},
	"request_timeout":     {},
}

type GatewayOptions struct {
	APIURL         string
	AdminToken     string
	BotToken       string
	ImageURLPrefix string
	Timeout        time.Duration
	Rate           float64
	Burst          int
	MaxFailures    uint32
	OpenTimeout    time.Duration
	Interval       time.Duration
	HTTPClient     *http.Client
	Metrics        ports.Metrics
}

// DirectoryGateway talks to the admin.emoji.* and emoji.list Web API methods.
// Calls are rate limited, guarded by a circuit breaker and never retried.
type DirectoryGateway struct {
	client         *http.Client
	apiURL         string
	adminToken     string
	botToken       string
	imageURLPrefix string
	timeout        time.Duration
	limiter        *rate.Limiter
	breaker        *gobreaker.CircuitBreaker
	metrics        ports.Metrics
}

var (
	_ ports.DirectoryGateway  = (*DirectoryGateway)(nil)
	_ ports.AttachmentFetcher = (*DirectoryGateway)(nil)
)

func NewDirectoryGateway(opts GatewayOptions) *DirectoryGateway {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	apiURL := strings.TrimSpace(opts.APIURL)
	if apiURL == "" {
		apiURL = "https://slack.com/api/"
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	maxFailures := opts.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	var metrics ports.Metrics = ports.NopMetrics{}
	if opts.Metrics != nil {
		metrics = opts.Metrics
	}
	botToken := opts.BotToken
	if strings.TrimSpace(botToken) == "" {
		botToken = opts.AdminToken
	}

	return &DirectoryGateway{
		client:         client,
		apiURL:         apiURL,
		adminToken:     opts.AdminToken,
		botToken:       botToken,
		imageURLPrefix: opts.ImageURLPrefix,
		timeout:        opts.Timeout,
		limiter:        rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "slack-directory",
			Interval:    opts.Interval,
			Timeout:     opts.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			IsSuccessful:  isDefinitiveAnswer,
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logging.Warn(
					logging.WithAttrs(context.Background(), slog.String("component", "infrastructure.slack")),
					"circuit breaker state change",
					slog.String("name", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		}),
		metrics: metrics,
	}
}

func (g *DirectoryGateway) AddEntry(ctx context.Context, name string, image domainemoji.Image) error {
	if strings.TrimSpace(image.SHA1) == "" {
		return errors.New("image sha1 is required")
	}
	_, err := g.call(ctx, "admin.emoji.add", g.adminToken, url.Values{
		"name": {name},
		"url":  {g.imageURLPrefix + image.SHA1},
	})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "error_name_taken" {
		return fmt.Errorf("%w: %s: %w", domainemoji.ErrEntryExists, name, err)
	}
	return err
}

func (g *DirectoryGateway) AddAlias(ctx context.Context, name string, canonical string) error {
	_, err := g.call(ctx, "admin.emoji.addAlias", g.adminToken, url.Values{
		"name":      {name},
		"alias_for": {canonical},
	})
	return err
}

func (g *DirectoryGateway) RemoveEntry(ctx context.Context, name string) error {
	_, err := g.call(ctx, "admin.emoji.remove", g.adminToken, url.Values{
		"name": {name},
	})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "emoji_not_found" {
		return fmt.Errorf("%w: %s", domainemoji.ErrEntryNotFound, name)
	}
	return err
}

type emojiListResponse struct {
	Emoji      map[string]string `json:"emoji"`
	Categories []struct {
		Name       string   `json:"name"`
		EmojiNames []string `json:"emoji_names"`
	} `json:"categories"`
}

func (g *DirectoryGateway) ListEntries(ctx context.Context) (map[string]domainemoji.EntryKind, error) {
	raw, err := g.call(ctx, "emoji.list", g.botToken, url.Values{
		"include_categories": {"true"},
	})
	if err != nil {
		return nil, err
	}

	var body emojiListResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, errs.Wrap(err, "decode emoji.list response")
	}

	entries := make(map[string]domainemoji.EntryKind, len(body.Emoji))
	for _, category := range body.Categories {
		for _, name := range category.EmojiNames {
			entries[name] = domainemoji.EntryBuiltIn
		}
	}
	for name, value := range body.Emoji {
		if strings.HasPrefix(value, aliasPrefix) {
			entries[name] = domainemoji.EntryAlias
			continue
		}
		entries[name] = domainemoji.EntryCustom
	}
	return entries, nil
}

type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// FetchAttachment downloads a file shared in chat using the bot token. It goes
// through the same rate limiter and breaker as the API calls.
func (g *DirectoryGateway) FetchAttachment(ctx context.Context, fileURL string) ([]byte, error) {
	if strings.TrimSpace(fileURL) == "" {
		return nil, errors.New("attachment url is required")
	}
	return g.guard(ctx, "files.download", func(ctx context.Context) ([]byte, error) {
		return g.download(ctx, fileURL)
	})
}

func (g *DirectoryGateway) call(ctx context.Context, method string, token string, form url.Values) ([]byte, error) {
	return g.guard(ctx, method, func(ctx context.Context) ([]byte, error) {
		return g.post(ctx, method, token, form)
	})
}

func (g *DirectoryGateway) guard(ctx context.Context, method string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	started := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		g.metrics.GatewayCall(method, "throttled", time.Since(started))
		return nil, errs.Wrapf(err, "wait for %s rate limit", method)
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	g.metrics.GatewayCall(method, outcome(err), time.Since(started))
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (g *DirectoryGateway) post(ctx context.Context, method string, token string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+method, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errs.Wrapf(err, "build %s request", method)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errs.Wrapf(err, "call %s", method)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrapf(err, "read %s response", method)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &APIError{Method: method, Code: "ratelimited"}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &APIError{Method: method, Code: "service_unavailable"}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errs.Wrapf(err, "decode %s response (status %d)", method, resp.StatusCode)
	}
	if !env.OK {
		return nil, &APIError{Method: method, Code: env.Error}
	}
	return raw, nil
}

func (g *DirectoryGateway) download(ctx context.Context, fileURL string) ([]byte, error) {
	const method = "files.download"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, errs.Wrapf(err, "build %s request", method)
	}
	req.Header.Set("Authorization", "Bearer "+g.botToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errs.Wrapf(err, "call %s", method)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &APIError{Method: method, Code: "ratelimited"}
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &APIError{Method: method, Code: "service_unavailable"}
	case resp.StatusCode != http.StatusOK:
		return nil, &APIError{Method: method, Code: fmt.Sprintf("http_%d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, errs.Wrapf(err, "read %s response", method)
	}
	if len(raw) > maxAttachmentBytes {
		return nil, &APIError{Method: method, Code: "file_too_large"}
	}
	return raw, nil
}

// isDefinitiveAnswer keeps refusals such as invalid_name from tripping the breaker.
func isDefinitiveAnswer(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	_, transient := transientCodes[apiErr.Code]
	return !transient
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "open"
	case isDefinitiveAnswer(err):
		return "refused"
	default:
		return "error"
	}
}
