package ingest

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// Default fetch settings.
const (
	DefaultFetchTimeout      = 30 * time.Second
	DefaultFetchRetries      = 3
	DefaultFetchRetryDelay   = time.Second
	DefaultFetchRetryMaxWait = 10 * time.Second
	DefaultUserAgent         = "esplayer/1.0"

	acceptEncoding = "gzip, deflate, br"
)

// ErrFetchRetries is returned when every attempt to fetch a URL failed.
var ErrFetchRetries = errors.New("max retries exceeded")

// FetchConfig configures how Open reads http(s) locations.
type FetchConfig struct {
	// Client is used for requests. Nil builds one with Timeout.
	Client     *http.Client
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	// RetryMaxWait caps the exponential backoff between attempts.
	RetryMaxWait time.Duration
	UserAgent    string
	Logger       *slog.Logger
}

// DefaultFetchConfig returns the default fetch settings.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:      DefaultFetchTimeout,
		Retries:      DefaultFetchRetries,
		RetryDelay:   DefaultFetchRetryDelay,
		RetryMaxWait: DefaultFetchRetryMaxWait,
		UserAgent:    DefaultUserAgent,
	}
}

// Open returns the transport stream at location, a local path or an
// http(s) URL. gzip, bzip2 and xz input is detected by its magic bytes and
// decoded; brotli has no magic and is recognised by a ".br" suffix or a
// "br" Content-Encoding.
func Open(ctx context.Context, location string, cfg FetchConfig) (io.ReadCloser, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var (
		body     io.ReadCloser
		isBrotli bool
		err      error
	)
	if u, perr := url.Parse(location); perr == nil && (u.Scheme == "http" || u.Scheme == "https") {
		body, err = fetch(ctx, u, cfg)
		isBrotli = strings.HasSuffix(u.Path, ".br")
	} else {
		body, err = os.Open(location)
		isBrotli = strings.HasSuffix(location, ".br")
	}
	if err != nil {
		return nil, err
	}

	if isBrotli {
		return decoded(brotliReader(body), body), nil
	}
	rc, err := decompress(body)
	if err != nil {
		body.Close()
		return nil, err
	}
	return rc, nil
}

func brotliReader(r io.Reader) io.Reader { return brotli.NewReader(r) }

// decompress sniffs the compression format from the first bytes of r.
func decompress(r io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(6)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("peeking header: %w", err)
	}

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return decoded(gzr, r), nil

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		bzr, err := bzip2.NewReader(br, nil)
		if err != nil {
			return nil, fmt.Errorf("creating bzip2 reader: %w", err)
		}
		return decoded(bzr, r), nil

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' &&
		header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return decoded(xzr, r), nil
	}
	return decoded(br, r), nil
}

// decodeReader closes the decoder, if it has a Close, and then the source.
type decodeReader struct {
	reader io.Reader
	closer io.Closer
}

func decoded(r io.Reader, c io.Closer) io.ReadCloser {
	return &decodeReader{reader: r, closer: c}
}

func (d *decodeReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decodeReader) Close() error {
	if c, ok := d.reader.(io.Closer); ok {
		c.Close()
	}
	return d.closer.Close()
}

// fetch GETs u, retrying network errors and retryable statuses with an
// exponential backoff.
func fetch(ctx context.Context, u *url.URL, cfg FetchConfig) (io.ReadCloser, error) {
	client := cfg.Client
	if client == nil {
		// Timeout bounds the response headers; the body streams.
		client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: cfg.Timeout,
		}}
	}
	logger := cfg.Logger.With(slog.String("url", obfuscateURL(u)))

	var lastErr error
	delay := cfg.RetryDelay
	for attempt := 0; attempt <= cfg.Retries; attempt++ {
		if attempt > 0 {
			logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if cfg.RetryMaxWait > 0 && delay > cfg.RetryMaxWait {
				delay = cfg.RetryMaxWait
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		if cfg.UserAgent != "" {
			req.Header.Set("User-Agent", cfg.UserAgent)
		}
		req.Header.Set("Accept-Encoding", acceptEncoding)

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = err
			logger.Warn("request failed",
				slog.Duration("duration", time.Since(start)),
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt),
			)
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			resp.Body.Close()
			lastErr = fmt.Errorf("retryable status code: %d", resp.StatusCode)
			logger.Warn("retryable status code",
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt),
			)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetching %s: unexpected status %d", obfuscateURL(u), resp.StatusCode)
		}

		logger.Debug("request completed",
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", time.Since(start)),
			slog.Int64("content_length", resp.ContentLength),
		)
		return contentDecoded(resp, logger), nil
	}

	return nil, fmt.Errorf("%w: %v", ErrFetchRetries, lastErr)
}

// contentDecoded undoes the response's Content-Encoding.
func contentDecoded(resp *http.Response, logger *slog.Logger) io.ReadCloser {
	switch enc := strings.ToLower(resp.Header.Get("Content-Encoding")); enc {
	case "":
		return resp.Body
	case "gzip":
		gzr, err := gzip.NewReader(resp.Body)
		if err != nil {
			logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()))
			return resp.Body
		}
		return decoded(gzr, resp.Body)
	case "deflate":
		return decoded(flate.NewReader(resp.Body), resp.Body)
	case "br":
		return decoded(brotliReader(resp.Body), resp.Body)
	default:
		logger.Debug("unknown content encoding, returning raw body", slog.String("encoding", enc))
		return resp.Body
	}
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// obfuscateURL masks credentials in u for logging.
func obfuscateURL(u *url.URL) string {
	sanitized := *u
	if sanitized.User != nil {
		sanitized.User = url.User("***")
	}
	query := sanitized.Query()
	for _, param := range []string{"password", "pass", "token", "api_key", "apikey", "key", "secret", "auth"} {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}
	sanitized.RawQuery = query.Encode()
	return sanitized.String()
}
