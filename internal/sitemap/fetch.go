package sitemap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	// DefaultUserAgent identifies sitemapaudit to the sites it reads.
	DefaultUserAgent = "Mozilla/5.0 (compatible; SitemapAudit/1.0)"

	// DefaultTimeout bounds a single sitemap document fetch.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBodyBytes matches the 50 MiB uncompressed limit of the sitemap protocol.
	DefaultMaxBodyBytes int64 = 50 << 20
)

// HTTPConfig configures how sitemap documents are fetched.
type HTTPConfig struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// DefaultHTTPConfig returns the default fetch configuration.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		UserAgent:    DefaultUserAgent,
		Timeout:      DefaultTimeout,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

func (c *HTTPConfig) setDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// gzipMagic is the two-byte header of a gzip stream.
var gzipMagic = []byte{0x1f, 0x8b}

type fetcher struct {
	client *http.Client
	cfg    HTTPConfig
}

// body is an open sitemap document. Closing it releases the connection.
type body struct {
	io.Reader
	closers []io.Closer
}

func (b *body) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// open issues a GET for a sitemap document and returns a reader over its
// (decompressed) content. Non-2xx responses are reported as *FetchError.
func (f *fetcher) open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/xml, text/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	br := bufio.NewReader(newCappedReader(resp.Body, f.cfg.MaxBodyBytes))
	b := &body{Reader: br, closers: []io.Closer{resp.Body}}

	// Servers often deliver .xml.gz files without a Content-Encoding header,
	// so sniff the payload instead of trusting the URL or headers.
	if magic, _ := br.Peek(len(gzipMagic)); len(magic) == len(gzipMagic) &&
		magic[0] == gzipMagic[0] && magic[1] == gzipMagic[1] {
		zr, err := gzip.NewReader(br)
		if err != nil {
			b.Close()
			return nil, &ParseError{URL: url, Err: fmt.Errorf("open gzip stream: %w", err)}
		}
		b.Reader = newCappedReader(zr, f.cfg.MaxBodyBytes)
		b.closers = append(b.closers, zr)
	}
	return b, nil
}

// BodyTooLargeError reports a document larger than the configured limit.
type BodyTooLargeError struct {
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("sitemap exceeds %d bytes", e.Limit)
}

// cappedReader reads at most limit bytes and fails with *BodyTooLargeError
// if the source has more. io.LimitReader would end the stream silently.
type cappedReader struct {
	r     io.Reader
	limit int64
	left  int64
}

func newCappedReader(r io.Reader, limit int64) *cappedReader {
	return &cappedReader{r: r, limit: limit, left: limit}
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.left <= 0 {
		// One byte past the limit tells a full document from an oversized one.
		var extra [1]byte
		n, err := c.r.Read(extra[:])
		if n > 0 {
			return 0, &BodyTooLargeError{Limit: c.limit}
		}
		return 0, err
	}
	if int64(len(p)) > c.left {
		p = p[:c.left]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	return n, err
}
