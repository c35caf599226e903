// Package web serves the browser upload form.
package web

import (
	_ "embed"

	"github.com/gofiber/fiber/v2"
)

//go:embed static/index.html
var indexHTML []byte

// HandleIndex renders the upload page. The page posts to /api/convert on the
// same origin unless window.PDFSHIFT_API_URL is set.
func HandleIndex(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(indexHTML)
}
