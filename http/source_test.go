package http_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davitf/archivey"
	archiveyhttp "github.com/davitf/archivey/http"
	"github.com/davitf/archivey/internal/testutil"
)

func serve(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSourceReadAt(t *testing.T) {
	data := []byte("hello world")
	server := serve(t, data)

	src, err := archiveyhttp.NewSource(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	if src.Size() != int64(len(data)) {
		t.Fatalf("Size() = %d, want %d", src.Size(), len(data))
	}

	buf := make([]byte, 5)
	n, err := src.ReadAt(buf, 6)
	if err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if n != len(buf) {
		t.Fatalf("ReadAt() n = %d, want %d", n, len(buf))
	}
	if string(buf) != "world" {
		t.Fatalf("ReadAt() got %q, want %q", string(buf), "world")
	}

	edge := make([]byte, 10)
	n, err = src.ReadAt(edge, int64(len(data)-3))
	if err != io.EOF {
		t.Fatalf("ReadAt() error = %v, want io.EOF", err)
	}
	if n != 3 {
		t.Fatalf("ReadAt() n = %d, want 3", n)
	}
	if string(edge[:n]) != "rld" {
		t.Fatalf("ReadAt() got %q, want %q", string(edge[:n]), "rld")
	}

	if _, err := src.ReadAt(buf, int64(len(data))); err != io.EOF {
		t.Fatalf("ReadAt() past end error = %v, want io.EOF", err)
	}
}

func TestSourceEmpty(t *testing.T) {
	server := serve(t, nil)

	src, err := archiveyhttp.NewSource(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	if src.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", src.Size())
	}
}

func TestSourceRangeUnsupported(t *testing.T) {
	data := []byte("range unsupported")
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method == nethttp.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)

	_, err := archiveyhttp.NewSource(context.Background(), server.URL)
	if !errors.Is(err, archiveyhttp.ErrRangeUnsupported) {
		t.Fatalf("NewSource() error = %v, want ErrRangeUnsupported", err)
	}
}

func TestSourceChanged(t *testing.T) {
	var version atomic.Int32
	version.Store(1)
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		v := version.Load()
		w.Header().Set("ETag", `"v`+strconv.Itoa(int(v))+`"`)
		body := bytes.Repeat([]byte{byte('0' + v)}, 64)
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(body))
	}))
	t.Cleanup(server.Close)

	src, err := archiveyhttp.NewSource(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	buf := make([]byte, 4)
	if _, err := src.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}

	version.Store(2)
	if _, err := src.ReadAt(buf, 0); !errors.Is(err, archiveyhttp.ErrChanged) {
		t.Fatalf("ReadAt() error = %v, want ErrChanged", err)
	}
}

func TestSourceHeaders(t *testing.T) {
	var sawToken atomic.Bool
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(nethttp.StatusUnauthorized)
			return
		}
		sawToken.Store(true)
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader([]byte("secret")))
	}))
	t.Cleanup(server.Close)

	if _, err := archiveyhttp.NewSource(context.Background(), server.URL); err == nil {
		t.Fatal("expected error without credentials")
	}
	src, err := archiveyhttp.NewSource(context.Background(), server.URL, archiveyhttp.WithHeader("Authorization", "Bearer token"))
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	if !sawToken.Load() || src.Size() != 6 {
		t.Fatalf("Size() = %d, want 6", src.Size())
	}
}

func TestSourceName(t *testing.T) {
	server := serve(t, []byte("x"))

	tests := []struct {
		path string
		want string
	}{
		{"/releases/v1/app.tar.zst", "app.tar.zst"},
		{"/releases/app.zip?sig=abc", "app.zip"},
		{"", ""},
	}
	for _, tt := range tests {
		src, err := archiveyhttp.NewSource(context.Background(), server.URL+tt.path)
		if err != nil {
			t.Fatalf("NewSource(%q) error = %v", tt.path, err)
		}
		if got := src.Name(); got != tt.want {
			t.Fatalf("Name() for %q = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestSourceOpenArchive(t *testing.T) {
	data := testutil.BuildZip(t, testutil.Scenario())
	server := serve(t, data)

	src, err := archiveyhttp.NewSource(context.Background(), server.URL+"/files/scenario.zip")
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	r, err := archivey.OpenReaderAt(src, src.Size(), src.Name())
	if err != nil {
		t.Fatalf("OpenReaderAt() error = %v", err)
	}
	defer r.Close()

	if r.Format() != archivey.FormatZip {
		t.Fatalf("Format() = %s, want zip", r.Format())
	}
	rc, err := r.OpenName("dir/a.txt")
	if err != nil {
		t.Fatalf("OpenName() error = %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(body) != "hello world" {
		t.Fatalf("content = %q, want %q", body, "hello world")
	}
}
