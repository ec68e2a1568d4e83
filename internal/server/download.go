package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// UnsupportedFormatMessage is the body returned for an unknown download format.
const UnsupportedFormatMessage = "Unsupported format. Supported formats are: txt, pdf, docx."

const mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// DownloadRequest is the body of POST /api/download.
type DownloadRequest struct {
	Response string `json:"response"`
	Format   string `json:"format"`
}

type attachment struct {
	contentType string
	filename    string
}

var downloadFormats = map[string]attachment{
	"txt":  {contentType: echo.MIMETextPlain, filename: "llm_response.txt"},
	"pdf":  {contentType: "application/pdf", filename: "llm_response.pdf"},
	"docx": {contentType: mimeDOCX, filename: "llm_response.docx"},
}

// lookupFormat resolves a download format. An empty format means txt.
func lookupFormat(format string) (attachment, bool) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "txt"
	}
	a, ok := downloadFormats[format]
	return a, ok
}

// writeAttachment sends text as a named attachment. The bytes are the UTF-8
// text itself regardless of format.
func writeAttachment(c echo.Context, req *DownloadRequest) error {
	if req.Response == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	a, ok := lookupFormat(req.Format)
	if !ok {
		return c.String(http.StatusBadRequest, UnsupportedFormatMessage)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+a.filename)
	return c.Blob(http.StatusOK, a.contentType, []byte(req.Response))
}
