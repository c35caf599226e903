package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfshift/internal/client"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConvertCommand_SavesResult(t *testing.T) {
	var margin string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		margin = r.FormValue("margin_mm")
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("X-Page-Count", "4")
		_, _ = io.WriteString(w, "%PDF-1.7")
	}))
	defer srv.Close()

	dir := t.TempDir()
	in := filepath.Join(dir, "label.pdf")
	require.NoError(t, os.WriteFile(in, []byte("%PDF-1.4"), 0o644))
	outDir := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(outDir, 0o755))

	out, err := runCLI(t, "convert", in, "--margin", "-24", "--out", outDir, "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "-24", margin)
	assert.Contains(t, out, "(4 pages)")

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "label_shifted_"))
}

func TestConvertCommand_ServerDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail":"Uploaded file is not a PDF"}`)
	}))
	defer srv.Close()

	in := filepath.Join(t.TempDir(), "fake.pdf")
	require.NoError(t, os.WriteFile(in, []byte("hello"), 0o644))

	_, err := runCLI(t, "convert", in, "--api-url", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Uploaded file is not a PDF")
	assert.Contains(t, err.Error(), "(400)")
}

func TestConvertCommand_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	in := filepath.Join(t.TempDir(), "a.pdf")
	require.NoError(t, os.WriteFile(in, []byte("%PDF-1.4"), 0o644))

	_, err := runCLI(t, "convert", in, "--api-url", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unable to reach the conversion server")
}

func TestConvertCommand_ProductionWithoutURL(t *testing.T) {
	t.Setenv("PDFSHIFT_PRODUCTION_URL", "")
	os.Unsetenv("PDFSHIFT_PRODUCTION_URL")
	t.Setenv("PDFSHIFT_API_URL", "")
	os.Unsetenv("PDFSHIFT_API_URL")

	_, err := runCLI(t, "convert", "x.pdf", "--env", "production")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PDFSHIFT_PRODUCTION_URL")
}

func TestConvertCommand_LocalValidationMessages(t *testing.T) {
	in := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(in, []byte("hi"), 0o644))

	_, err := runCLI(t, "convert", in, "--api-url", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Equal(t, "Please choose a PDF file", err.Error())
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{client.ErrNotPDF, "Please choose a PDF file"},
		{client.ErrTooLarge, "File is too large (maximum 10 MiB)"},
		{client.ErrInvalidResponseFormat, "Invalid response format"},
		{client.ErrEmptyResponse, "Empty response received"},
		{fmt.Errorf("%w: dial tcp", client.ErrUnreachable), "Unable to reach the conversion server"},
		{errors.New("other"), ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, userMessage(tc.err), tc.err.Error())
	}
}

func TestConvertCommand_RequiresFile(t *testing.T) {
	_, err := runCLI(t, "convert")
	assert.Error(t, err)
}
