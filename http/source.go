// Package http provides an io.ReaderAt over HTTP range requests, so remote
// archives can be opened with archivey.OpenReaderAt without downloading
// them first.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrRangeUnsupported is returned when the server ignores Range headers.
var ErrRangeUnsupported = errors.New("http: range requests not supported")

// ErrChanged is returned when the remote content changed since the source
// was opened.
var ErrChanged = errors.New("http: remote content changed")

// Source implements random access reads via HTTP range requests.
//
// The validators (ETag, Last-Modified) seen when the source is created are
// sent with every read, so a replaced object fails with ErrChanged instead
// of mixing bytes from two versions.
type Source struct {
	ctx          context.Context
	url          string
	client       *nethttp.Client
	headers      nethttp.Header
	log          *zap.Logger
	size         int64
	etag         string
	lastModified string
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithLogger logs every range request at debug level.
func WithLogger(log *zap.Logger) Option {
	return func(s *Source) {
		s.log = log
	}
}

// NewSource creates a Source backed by HTTP range requests. It probes the
// remote to determine the content size. ctx bounds the probe and every
// later read.
func NewSource(ctx context.Context, url string, opts ...Option) (*Source, error) {
	s := &Source{
		ctx:    ctx,
		url:    url,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}

	if err := s.fetchMetadata(); err != nil {
		return nil, err
	}
	s.log.Debug("http source opened",
		zap.String("url", url),
		zap.Int64("size", s.size),
		zap.String("etag", s.etag))
	return s, nil
}

// Size returns the total size of the remote content.
func (s *Source) Size() int64 {
	return s.size
}

// Name returns the last path element of the URL, which carries the
// archive's extension for format detection.
func (s *Source) Name() string {
	u, err := url.Parse(s.url)
	if err != nil || u.Path == "" {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return ""
	}
	return name
}

// ReadAt reads data from the remote at the given offset using one range
// request.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	end := off + int64(len(p)) - 1
	expected := len(p)
	if end >= s.size {
		end = s.size - 1
		expected = int(end - off + 1)
	}

	req, err := s.newRequest(nethttp.MethodGet)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))
	s.log.Debug("range request", zap.Int64("offset", off), zap.Int64("end", end))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		// ok
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case nethttp.StatusPreconditionFailed:
		return 0, ErrChanged
	case nethttp.StatusOK:
		return 0, ErrRangeUnsupported
	default:
		return 0, fmt.Errorf("range request failed: %s", resp.Status)
	}

	n, err := io.ReadFull(resp.Body, p[:expected])
	if err != nil {
		return n, err
	}
	if expected < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Source) fetchMetadata() error {
	size := int64(-1)

	if resp, err := s.doHead(); err == nil {
		if resp.StatusCode == nethttp.StatusOK {
			size = resp.ContentLength
			s.etag = resp.Header.Get("ETag")
			s.lastModified = resp.Header.Get("Last-Modified")
		}
		_ = resp.Body.Close()
	}

	rangeSize, etag, lastModified, err := s.rangeProbe()
	if err != nil {
		return err
	}
	if size > 0 && size != rangeSize {
		return fmt.Errorf("content size mismatch: head=%d range=%d", size, rangeSize)
	}
	if s.etag == "" {
		s.etag = etag
	}
	if s.lastModified == "" {
		s.lastModified = lastModified
	}
	s.size = rangeSize
	return nil
}

func (s *Source) rangeProbe() (int64, string, string, error) {
	req, err := s.newRequest(nethttp.MethodGet)
	if err != nil {
		return 0, "", "", err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", "", err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		// Empty content.
		if size, err := parseContentRange(resp.Header.Get("Content-Range")); err == nil && size == 0 {
			return 0, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), nil
		}
		return 0, "", "", fmt.Errorf("range probe failed: %s", resp.Status)
	case nethttp.StatusOK:
		return 0, "", "", ErrRangeUnsupported
	default:
		return 0, "", "", fmt.Errorf("range probe failed: %s", resp.Status)
	}

	crange := resp.Header.Get("Content-Range")
	if crange == "" {
		return 0, "", "", errors.New("range probe missing Content-Range")
	}
	size, err := parseContentRange(crange)
	if err != nil {
		return 0, "", "", err
	}
	return size, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), nil
}

func (s *Source) doHead() (*nethttp.Response, error) {
	req, err := s.newRequest(nethttp.MethodHead)
	if err != nil {
		return nil, err
	}
	return s.client.Do(req)
}

func (s *Source) newRequest(method string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(s.ctx, method, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if method == nethttp.MethodGet {
		if s.etag != "" && req.Header.Get("If-Match") == "" {
			req.Header.Set("If-Match", s.etag)
		}
		if s.lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
			req.Header.Set("If-Unmodified-Since", s.lastModified)
		}
	}
	return req, nil
}

// parseContentRange returns the complete length from "bytes a-b/size" or
// "bytes */size".
func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	_, total, ok := strings.Cut(strings.TrimPrefix(value, "bytes "), "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}
