package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"pdfshift/internal/shift"
	u "pdfshift/internal/utils"
)

// ConvertRequestParams holds validated input of a conversion request.
type ConvertRequestParams struct {
	Upload   *multipart.FileHeader
	Filename string
	MarginMM float64
	Mode     shift.Mode
}

// ConvertService bundles configuration and dependencies of the conversion
// endpoint.
type ConvertService struct {
	Config  *u.Config
	Redis   *redis.Client
	Scratch u.ScratchDirs
}

// NewConvertService creates a new ConvertService instance.
func NewConvertService(cfg u.Config, rdb *redis.Client, scratch u.ScratchDirs) *ConvertService {
	return &ConvertService{
		Config:  &cfg,
		Redis:   rdb,
		Scratch: scratch,
	}
}

// HandleConvert returns a Fiber handler for conversion requests.
func HandleConvert(cfg u.Config, rdb *redis.Client, scratch u.ScratchDirs) fiber.Handler {
	return NewConvertService(cfg, rdb, scratch).HandleConvert
}

// HandleConvert shifts the uploaded PDF or serves a cached copy.
func (svc *ConvertService) HandleConvert(c *fiber.Ctx) error {
	params, err := validateAndExtractConvertParams(c, *svc.Config)
	if err != nil {
		return err
	}
	return svc.processConversion(c, params)
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// outputFilename derives the download name from the uploaded one.
func outputFilename(uploaded string) string {
	stem := filepath.Base(strings.ReplaceAll(uploaded, `\`, "/"))
	if ext := filepath.Ext(stem); strings.EqualFold(ext, ".pdf") {
		stem = stem[:len(stem)-len(ext)]
	}
	stem = strings.Trim(unsafeFilenameChars.ReplaceAllString(stem, "_"), "._")
	if stem == "" {
		stem = "document"
	}
	return stem + "_shifted.pdf"
}

// validateAndExtractConvertParams validates the multipart form of a request.
func validateAndExtractConvertParams(c *fiber.Ctx, cfg u.Config) (*ConvertRequestParams, error) {
	fh, err := c.FormFile("file")
	if err != nil || fh == nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "No file uploaded")
	}
	if !strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Only PDF files are supported")
	}
	if fh.Size == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Uploaded file is empty")
	}
	if limit := cfg.Limits.MaxUploadBytes; limit > 0 && fh.Size > int64(limit) {
		return nil, fiber.NewError(fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("File exceeds %s limit", humanize.IBytes(uint64(limit))))
	}

	margin := 0.0
	if raw := strings.TrimSpace(c.FormValue("margin_mm")); raw != "" {
		m, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(m) || math.IsInf(m, 0) {
			return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid margin_mm: must be a number")
		}
		margin = m
	}
	limit := math.Min(cfg.Shift.MaxMarginMM, shift.MaxMarginMM)
	if limit <= 0 {
		limit = shift.MaxMarginMM
	}
	margin = math.Max(-limit, math.Min(limit, margin))

	mode, err := shift.ParseMode(strings.ToLower(c.FormValue("mode")), shift.Mode(cfg.Shift.DefaultMode))
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid mode: must be 'shift' or 'label'")
	}

	return &ConvertRequestParams{
		Upload:   fh,
		Filename: outputFilename(fh.Filename),
		MarginMM: margin,
		Mode:     mode,
	}, nil
}

// processConversion stages the upload in scratch storage, runs the shift and
// streams the result back.
func (svc *ConvertService) processConversion(c *fiber.Ctx, params *ConvertRequestParams) error {
	id := xid.New().String()
	inPath := filepath.Join(svc.Scratch.Uploads, id+".pdf")
	outPath := filepath.Join(svc.Scratch.Outputs, id+".pdf")
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	if err := c.SaveFile(params.Upload, inPath); err != nil {
		u.Error("Failed to stage upload", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "Could not store upload")
	}

	in, err := os.Open(inPath)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Could not store upload")
	}
	defer in.Close()

	cacheKey, err := computeConvertCacheKey(in, params)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Could not read upload")
	}

	if svc.Redis != nil && svc.Config.Cache.PDFCacheEnabled {
		if cached, err := getCachedPDF(c.Context(), svc.Redis, cacheKey); err == nil && cached != nil {
			pages, err := shift.CountPages(bytes.NewReader(cached))
			if err == nil {
				return sendPDF(c, params, cached, shift.Result{
					PageCount:    pages,
					MarginMM:     params.MarginMM,
					MarginPoints: shift.MMToPoints(params.MarginMM),
					Mode:         params.Mode,
				})
			}
			// Unreadable entries are converted again and overwritten below.
			u.Warn("Discarding unreadable cached PDF", "key", cacheKey, "error", err)
		}
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Could not allocate output")
	}
	res, err := shift.Process(in, out, svc.shiftOptions(params))
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return conversionError(err)
	}

	pdfBuf, err := os.ReadFile(outPath)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Could not read converted PDF")
	}
	if limit := svc.Config.Limits.MaxPDFBytes; limit > 0 && len(pdfBuf) > limit {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "Converted PDF exceeds allowed size")
	}

	if svc.Redis != nil && svc.Config.Cache.PDFCacheEnabled {
		setCachedPDF(c.Context(), svc.Redis, cacheKey, pdfBuf, svc.Config.Cache.PDFCacheTTL)
	}

	u.Info("PDF converted",
		"filename", params.Filename,
		"pages", res.PageCount,
		"margin_mm", res.MarginMM,
		"mode", string(res.Mode),
		"request_id", c.GetRespHeader(fiber.HeaderXRequestID))

	return sendPDF(c, params, pdfBuf, res)
}

func (svc *ConvertService) shiftOptions(params *ConvertRequestParams) shift.Options {
	return shift.Options{
		MarginMM:    params.MarginMM,
		Mode:        params.Mode,
		LabelWidth:  svc.Config.Shift.LabelWidthIn * 72,
		LabelHeight: svc.Config.Shift.LabelHeightIn * 72,
	}
}

func sendPDF(c *fiber.Ctx, params *ConvertRequestParams, pdfBuf []byte, res shift.Result) error {
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+params.Filename+`"`)
	c.Set("X-Page-Count", strconv.Itoa(res.PageCount))
	c.Set("X-Margin-Points", strconv.FormatFloat(res.MarginPoints, 'f', 2, 64))
	return c.Send(pdfBuf)
}

// conversionError maps engine errors onto client or server errors.
func conversionError(err error) error {
	switch {
	case errors.Is(err, shift.ErrNotPDF):
		return fiber.NewError(fiber.StatusBadRequest, "Uploaded file is not a PDF")
	case errors.Is(err, shift.ErrEmptyDocument):
		return fiber.NewError(fiber.StatusBadRequest, "PDF has no pages")
	case errors.Is(err, shift.ErrInvalidDocument),
		errors.Is(err, shift.ErrMissingMediaBox),
		errors.Is(err, shift.ErrEmptyCropRegion):
		return fiber.NewError(fiber.StatusBadRequest, "Could not read PDF: "+err.Error())
	case errors.Is(err, shift.ErrUnknownMode):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, shift.ErrInvalidMargin):
		return fiber.NewError(fiber.StatusBadRequest, "Invalid margin_mm: must be a number")
	}
	u.Error("PDF conversion failed", "error", err)
	return fiber.NewError(fiber.StatusInternalServerError, "PDF conversion failed")
}

// computeConvertCacheKey hashes the uploaded bytes together with the shift
// parameters and rewinds rs.
func computeConvertCacheKey(rs io.ReadSeeker, params *ConvertRequestParams) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, rs); err != nil {
		return "", err
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	h.Write([]byte(strconv.FormatFloat(params.MarginMM, 'f', 3, 64)))
	h.Write([]byte(params.Mode))
	return "pdfshift:" + hex.EncodeToString(h.Sum(nil)), nil
}

// getCachedPDF returns the cached document, or nil on a miss.
func getCachedPDF(ctx context.Context, rdb *redis.Client, key string) ([]byte, error) {
	ctxRedis, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	cached, err := rdb.Get(ctxRedis, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		u.Warn("Redis read failed", "error", err)
		return nil, err
	}
	u.Info("PDF cache hit", "key", key)
	return cached, nil
}

// setCachedPDF stores a converted document; a non-positive ttl means one minute.
func setCachedPDF(ctx context.Context, rdb *redis.Client, key string, data []byte, ttl time.Duration) {
	ctxRedis, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := rdb.Set(ctxRedis, key, data, ttl).Err(); err != nil {
		u.Warn("Redis write failed", "error", err)
	}
}
