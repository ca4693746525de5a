package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/alexcormier/setwp/internal/domain/release"
	"github.com/alexcormier/setwp/internal/logger"
)

const (
	// DefaultTimeout bounds one attempt.
	DefaultTimeout = 2 * time.Minute
	// DefaultRetries is the number of retries after a network error.
	DefaultRetries = 2
	// DefaultBackoff is the delay before the first retry.
	DefaultBackoff = time.Second

	progressThrottle = 100 * time.Millisecond
)

// ErrWrite is returned when the downloaded bytes cannot be stored. It is not retried.
var ErrWrite = errors.New("cannot store download")

var (
	errUnsupportedScheme = errors.New("unsupported url scheme")
	errRewindFailed      = errors.New("destination cannot be rewound for a retry")
)

// Fetcher downloads artifacts over HTTP(S) or from file:// URLs.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	progress io.Writer
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithTimeout bounds every attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

// WithRetries sets how many times a network error is retried and the first backoff.
func WithRetries(retries int, backoff time.Duration) Option {
	return func(f *Fetcher) {
		if retries >= 0 {
			f.retries = retries
		}

		if backoff > 0 {
			f.backoff = backoff
		}
	}
}

// WithProgress renders a byte progress bar to w while downloading.
func WithProgress(w io.Writer) Option {
	return func(f *Fetcher) {
		f.progress = w
	}
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  http.DefaultClient,
		timeout: DefaultTimeout,
		retries: DefaultRetries,
		backoff: DefaultBackoff,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Open performs a single retrieval and returns the streaming body with its
// size, or -1 when unknown. The caller closes the body.
func (f *Fetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, 0, fmt.Errorf("parse %s: %w", rawURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		return f.openHTTP(ctx, rawURL)
	case "file":
		return openFile(u)
	default:
		return nil, 0, fmt.Errorf("%s: %w", rawURL, errUnsupportedScheme)
	}
}

func (f *Fetcher) openHTTP(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, 0, err
	}

	response, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w: %w", rawURL, release.ErrNetwork, err)
	}

	switch {
	case response.StatusCode == http.StatusNotFound || response.StatusCode == http.StatusGone:
		_ = response.Body.Close()

		return nil, 0, fmt.Errorf("%s, %s: %w", rawURL, response.Status, release.ErrNotFound)
	case response.StatusCode < 200 || response.StatusCode > 299:
		_ = response.Body.Close()

		return nil, 0, fmt.Errorf("%s, %s: %w", rawURL, response.Status, release.ErrNetwork)
	}

	return response.Body, response.ContentLength, nil
}

func openFile(u *url.URL) (io.ReadCloser, int64, error) {
	name := filepath.FromSlash(path.Clean(u.Path))

	file, err := os.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%s: %w", u, release.ErrNotFound)
		}

		return nil, 0, fmt.Errorf("%s: %w: %w", u, release.ErrNetwork, err)
	}

	size := int64(-1)
	if info, statErr := file.Stat(); statErr == nil {
		size = info.Size()
	}

	return file, size, nil
}

// Download streams rawURL into dst and returns the number of bytes written.
// When dst is an *os.File it is truncated before each retry; other writers
// are only retried if nothing was written yet.
func (f *Fetcher) Download(ctx context.Context, rawURL string, dst io.Writer) (int64, error) {
	backoff := f.backoff

	var lastErr error

	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			logger.WarnKV(ctx, "Retrying download", "url", rawURL, "attempt", attempt+1, "error", lastErr)

			select {
			case <-ctx.Done():
				return 0, fmt.Errorf("%w: %w", release.ErrNetwork, ctx.Err())
			case <-time.After(backoff):
			}

			backoff *= 2

			if err := rewind(dst); err != nil {
				return 0, err
			}
		}

		written, err := f.downloadOnce(ctx, rawURL, dst)
		if err == nil {
			return written, nil
		}

		lastErr = err

		if !errors.Is(err, release.ErrNetwork) || ctx.Err() != nil {
			return written, err
		}

		if _, isFile := dst.(*os.File); !isFile && written > 0 {
			return written, err
		}
	}

	return 0, lastErr
}

func (f *Fetcher) downloadOnce(ctx context.Context, rawURL string, dst io.Writer) (int64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, size, err := f.Open(attemptCtx, rawURL)
	if err != nil {
		return 0, err
	}

	defer func() {
		_ = body.Close()
	}()

	sink := &trackingWriter{w: dst}

	var out io.Writer = sink

	if f.progress != nil {
		bar := progressbar.NewOptions64(size,
			progressbar.OptionSetWriter(f.progress),
			progressbar.OptionSetDescription("downloading "+path.Base(rawURL)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(progressThrottle),
			progressbar.OptionClearOnFinish(),
		)

		defer func() {
			_ = bar.Finish()
		}()

		out = io.MultiWriter(sink, bar)
	}

	written, err := io.Copy(out, body)
	if sink.err != nil {
		return written, fmt.Errorf("store %s: %w: %w", rawURL, ErrWrite, sink.err)
	}

	if err != nil {
		return written, fmt.Errorf("read %s: %w: %w", rawURL, release.ErrNetwork, err)
	}

	if size >= 0 && written != size {
		return written, fmt.Errorf("read %s: got %d of %d bytes: %w", rawURL, written, size, release.ErrNetwork)
	}

	return written, nil
}

// trackingWriter remembers the first error of the destination so it is not
// mistaken for a failed read.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil && t.err == nil {
		t.err = err
	}

	return n, err
}

func rewind(dst io.Writer) error {
	file, ok := dst.(*os.File)
	if !ok {
		return nil
	}

	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("%w: %w", errRewindFailed, err)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", errRewindFailed, err)
	}

	return nil
}
