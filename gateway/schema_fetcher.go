package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/jensneuse/abstractlogger"
)

// serviceResponse is the answer to `{ _service { sdl } }`.
type serviceResponse struct {
	Data struct {
		Service struct {
			SDL string `json:"sdl"`
		} `json:"_service"`
	} `json:"data"`
}

// RetryOption bounds SDL fetching: Attempts tries, each limited by Timeout.
type RetryOption struct {
	Attempts int    `yaml:"attempts" default:"3"`
	Timeout  string `yaml:"timeout"  default:"5s"`
}

var serviceSDLQuery = []byte(`{"query":"{_service{sdl}}"}`)

// loadSDL returns the SDL of a service: its schema files when configured, otherwise the
// result of `{ _service { sdl } }` against its host.
func loadSDL(ctx context.Context, s GatewayService, httpClient *http.Client, logger abstractlogger.Logger) (string, error) {
	if len(s.SchemaFiles) > 0 {
		return readSchemaFiles(s.SchemaFiles)
	}
	return fetchSDL(ctx, s.Host, httpClient, s.Retry, logger)
}

// readSchemaFiles concatenates files separated by newlines.
func readSchemaFiles(files []string) (string, error) {
	var buf bytes.Buffer
	for _, f := range files {
		src, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("failed to read schema file %s: %w", f, err)
		}
		buf.Write(src)
		buf.WriteByte('\n')
	}
	return buf.String(), nil
}

// fetchSDL asks host for its SDL, retrying failed attempts.
func fetchSDL(ctx context.Context, host string, httpClient *http.Client, retry RetryOption, logger abstractlogger.Logger) (string, error) {
	attempts := retry.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	perAttempt := defaultTimeout
	if d, err := time.ParseDuration(retry.Timeout); err == nil {
		perAttempt = d
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		sdl, err := fetchSDLOnce(ctx, host, httpClient, perAttempt)
		if err == nil {
			return sdl, nil
		}
		lastErr = err
		logger.Warn("sdl fetch failed",
			abstractlogger.String("host", host),
			abstractlogger.Int("attempt", i+1),
			abstractlogger.Error(err),
		)
	}
	return "", fmt.Errorf("sdl fetch from %s gave up after %d attempt(s): %w", host, attempts, lastErr)
}

func fetchSDLOnce(ctx context.Context, host string, httpClient *http.Client, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host, bytes.NewReader(serviceSDLQuery))
	if err != nil {
		return "", fmt.Errorf("invalid sdl request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s answered %s", host, res.Status)
	}

	var body serviceResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("invalid sdl response from %s: %w", host, err)
	}
	if sdl := body.Data.Service.SDL; sdl != "" {
		return sdl, nil
	}
	return "", fmt.Errorf("%s returned an empty sdl", host)
}
