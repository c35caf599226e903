// Package client uploads PDFs to a pdfshift server and saves the shifted
// result. Local checks run before any network traffic.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// MaxUploadBytes is the largest file the client will send.
const MaxUploadBytes = 10 * 1024 * 1024

// MaxMarginMM bounds the margin sent to the server.
const MaxMarginMM = 100.0

var (
	ErrNotPDF                = errors.New("not a PDF file")
	ErrTooLarge              = errors.New("file exceeds " + humanize.IBytes(MaxUploadBytes))
	ErrInvalidResponseFormat = errors.New("invalid response format")
	ErrEmptyResponse         = errors.New("empty response received")
	ErrUnreachable           = errors.New("conversion server unreachable")
)

// FallbackDetail is reported when a failed response carries no detail.
const FallbackDetail = "Error processing PDF"

// ServerError carries the detail message of a non-200 response.
type ServerError struct {
	Status int
	Detail string
}

func (e *ServerError) Error() string {
	return e.Detail
}

// Request is one conversion.
type Request struct {
	Path     string
	MarginMM float64
	Mode     string
}

// Response is a successful conversion.
type Response struct {
	PDF       []byte
	PageCount int
	Filename  string
}

// Client talks to a conversion server.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Now     func() time.Time
}

// New returns a Client for baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
		Now:     time.Now,
	}
}

// ClampMargin limits mm to [-MaxMarginMM, MaxMarginMM].
func ClampMargin(mm float64) float64 {
	if mm > MaxMarginMM {
		return MaxMarginMM
	}
	if mm < -MaxMarginMM {
		return -MaxMarginMM
	}
	return mm
}

// ValidateFile checks name and size without touching the network.
func ValidateFile(name string, size int64) error {
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return ErrNotPDF
	}
	if size > MaxUploadBytes {
		return ErrTooLarge
	}
	return nil
}

// DownloadName returns "<stem>_shifted_<timestamp>.pdf".
func DownloadName(uploaded string, now time.Time) string {
	stem := filepath.Base(uploaded)
	if ext := filepath.Ext(stem); strings.EqualFold(ext, ".pdf") {
		stem = stem[:len(stem)-len(ext)]
	}
	return fmt.Sprintf("%s_shifted_%s.pdf", stem, now.Format("20060102-150405"))
}

// Convert validates the file, uploads it and checks the response.
func (cl *Client) Convert(ctx context.Context, req Request) (*Response, error) {
	info, err := os.Stat(req.Path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotPDF
	}
	if err := ValidateFile(info.Name(), info.Size()); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeForm(info.Name(), data, ClampMargin(req.MarginMM), req.Mode)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cl.BaseURL+"/api/convert", body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentType)
	if cl.APIKey != "" {
		httpReq.Header.Set("X-API-Key", cl.APIKey)
	}

	resp, err := cl.HTTP.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp.StatusCode, payload)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/pdf" {
		return nil, ErrInvalidResponseFormat
	}
	if len(payload) == 0 {
		return nil, ErrEmptyResponse
	}

	pages, _ := strconv.Atoi(resp.Header.Get("X-Page-Count"))
	return &Response{
		PDF:       payload,
		PageCount: pages,
		Filename:  DownloadName(info.Name(), cl.Now()),
	}, nil
}

// Save writes the converted document into dir and returns its path.
func (r *Response) Save(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, r.Filename)
	if err := os.WriteFile(path, r.PDF, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func encodeForm(name string, data []byte, marginMM float64, mode string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("margin_mm", strconv.FormatFloat(marginMM, 'f', -1, 64)); err != nil {
		return nil, "", err
	}
	if mode != "" {
		if err := w.WriteField("mode", mode); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func serverError(status int, payload []byte) error {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Detail == "" {
		return &ServerError{Status: status, Detail: FallbackDetail}
	}
	return &ServerError{Status: status, Detail: body.Detail}
}
