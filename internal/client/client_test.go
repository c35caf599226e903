package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func newTestClient(url string) *Client {
	cl := New(url)
	cl.Now = func() time.Time { return fixedNow }
	return cl
}

func TestClampMargin(t *testing.T) {
	assert.Equal(t, 100.0, ClampMargin(150))
	assert.Equal(t, -100.0, ClampMargin(-101))
	assert.Equal(t, -24.0, ClampMargin(-24))
}

func TestValidateFile(t *testing.T) {
	assert.NoError(t, ValidateFile("a.pdf", 10))
	assert.NoError(t, ValidateFile("A.PDF", MaxUploadBytes))
	assert.ErrorIs(t, ValidateFile("a.png", 10), ErrNotPDF)
	assert.ErrorIs(t, ValidateFile("a.pdf", MaxUploadBytes+1), ErrTooLarge)
}

func TestDownloadName(t *testing.T) {
	assert.Equal(t, "label_shifted_20240309-140507.pdf", DownloadName("label.pdf", fixedNow))
	assert.Equal(t, "Scan_shifted_20240309-140507.pdf", DownloadName("/tmp/Scan.PDF", fixedNow))
}

func TestConvert_Success(t *testing.T) {
	var gotMargin, gotMode, gotKey, gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/convert", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		gotMargin = r.FormValue("margin_mm")
		gotMode = r.FormValue("mode")
		gotKey = r.Header.Get("X-API-Key")
		if _, fh, err := r.FormFile("file"); assert.NoError(t, err) {
			gotName = fh.Filename
		}

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("X-Page-Count", "2")
		_, _ = w.Write([]byte("%PDF-1.7 shifted"))
	}))
	defer srv.Close()

	cl := newTestClient(srv.URL + "/")
	cl.APIKey = "secret"
	resp, err := cl.Convert(context.Background(), Request{
		Path:     writeFile(t, "label.pdf", []byte("%PDF-1.4 in")),
		MarginMM: -250,
		Mode:     "label",
	})
	require.NoError(t, err)

	assert.Equal(t, "-100", gotMargin)
	assert.Equal(t, "label", gotMode)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "label.pdf", gotName)
	assert.Equal(t, 2, resp.PageCount)
	assert.Equal(t, "label_shifted_20240309-140507.pdf", resp.Filename)

	dir := t.TempDir()
	path, err := resp.Save(dir)
	require.NoError(t, err)
	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 shifted", string(saved))
}

func TestConvert_LocalChecksSkipNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()
	cl := newTestClient(srv.URL)

	_, err := cl.Convert(context.Background(), Request{Path: writeFile(t, "notes.txt", []byte("hi"))})
	assert.ErrorIs(t, err, ErrNotPDF)

	big := make([]byte, MaxUploadBytes+1)
	_, err = cl.Convert(context.Background(), Request{Path: writeFile(t, "big.pdf", big)})
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = cl.Convert(context.Background(), Request{Path: filepath.Join(t.TempDir(), "missing.pdf")})
	assert.Error(t, err)

	assert.Zero(t, calls.Load())
}

func TestConvert_ResponseErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "server detail",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"detail":"Only PDF files are supported"}`)
			},
			check: func(t *testing.T, err error) {
				var se *ServerError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, http.StatusBadRequest, se.Status)
				assert.Equal(t, "Only PDF files are supported", se.Detail)
			},
		},
		{
			name: "server error without detail",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = io.WriteString(w, "<html>bad gateway</html>")
			},
			check: func(t *testing.T, err error) {
				var se *ServerError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, FallbackDetail, se.Detail)
			},
		},
		{
			name: "wrong content type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = io.WriteString(w, "<html></html>")
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrInvalidResponseFormat) },
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/pdf")
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrEmptyResponse) },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			_, err := newTestClient(srv.URL).Convert(context.Background(), Request{
				Path: writeFile(t, "a.pdf", []byte("%PDF-1.4")),
			})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestConvert_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Convert(context.Background(), Request{
		Path: writeFile(t, "a.pdf", []byte("%PDF-1.4")),
	})
	assert.ErrorIs(t, err, ErrUnreachable)
}
