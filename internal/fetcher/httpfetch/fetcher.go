// Package httpfetch implements enrich.Fetcher with a bounded HTTP GET.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/poucher/metadata-worker/internal/enrich"
)

const (
	// DefaultUserAgent identifies the worker to the sites it fetches.
	DefaultUserAgent = "PoucherMetadataBot/1.0 (+https://poucher.app)"
	// DefaultTimeout bounds the whole request, body included.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxBytes caps how much of the body is read.
	DefaultMaxBytes = 1 << 20
	// DefaultMaxRedirects caps redirect chains.
	DefaultMaxRedirects = 5

	acceptHeader = "text/html,application/xhtml+xml"
)

// Config controls fetch limits.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBytes     int64
	MaxRedirects int
	// BlockPrivateNetworks refuses to dial loopback and private addresses.
	BlockPrivateNetworks bool
}

// Fetcher performs a single GET per call; it keeps no per-request state.
type Fetcher struct {
	cfg    Config
	client *http.Client
}

// New builds a Fetcher from cfg, filling zero values with defaults.
func New(cfg Config) *Fetcher {
	return NewWithClient(cfg, nil)
}

// NewWithClient builds a Fetcher around client.
// If client is nil, one is built from cfg.
func NewWithClient(cfg Config, client *http.Client) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if client == nil {
		client = newClient(cfg)
	}
	return &Fetcher{cfg: cfg, client: client}
}

func newClient(cfg Config) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if cfg.BlockPrivateNetworks {
		transport.Proxy = nil
		transport.DialContext = safeDialContext(dialer)
	}
	maxRedirects := cfg.MaxRedirects
	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// Fetch GETs url and returns the decoded HTML. Non-HTML responses return
// enrich.ErrNotExtractable; deadline overruns return enrich.ErrTimeout.
// Bodies longer than MaxBytes are truncated silently.
func (f *Fetcher) Fetch(ctx context.Context, url string) (enrich.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return enrich.Page{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return enrich.Page{}, classify(ctx, "request", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return enrich.Page{}, &enrich.StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	contentType := resp.Header.Get("Content-Type")
	if !IsHTML(contentType) {
		return enrich.Page{}, fmt.Errorf("%w: content type %q is not HTML", enrich.ErrNotExtractable, contentType)
	}

	raw, truncated, err := readLimited(resp.Body, f.cfg.MaxBytes)
	if err != nil {
		return enrich.Page{}, classify(ctx, "read body", err)
	}

	return enrich.Page{
		URL:         url,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		HTML:        Decode(raw, contentType),
		Bytes:       len(raw),
		Truncated:   truncated,
		Duration:    time.Since(start),
	}, nil
}

// IsHTML reports whether a Content-Type header announces HTML.
func IsHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

// readLimited reads at most limit bytes and reports whether more remained.
func readLimited(r io.Reader, limit int64) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

// Decode converts raw bytes to UTF-8 using the charset declared in
// contentType, defaulting to UTF-8. Invalid or unmappable input becomes
// U+FFFD; decoding never fails.
func Decode(raw []byte, contentType string) string {
	enc := lookupEncoding(contentType)
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "�")
	}
	return string(out)
}

func lookupEncoding(contentType string) encoding.Encoding {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return unicode.UTF8
	}
	label := strings.TrimSpace(params["charset"])
	if label == "" {
		return unicode.UTF8
	}
	enc, _ := charset.Lookup(label)
	if enc == nil {
		return unicode.UTF8
	}
	return enc
}

func classify(ctx context.Context, op string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%s: %w: %v", op, enrich.ErrTimeout, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
