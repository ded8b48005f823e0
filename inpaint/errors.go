// Package inpaint implements the per-layer stages of a Flux inpainting run:
// exporting a layer, deriving its alpha mask, calling the remote inpainting
// service, downloading the result and inserting it into the document.
//
// errors.go defines the stage errors. Every stage failure wraps one of the
// sentinels below so callers can classify it with errors.Is.
package inpaint

import (
	"errors"
	"fmt"
	"strings"
)

// Stage failure sentinels.
var (
	ErrExportFailed   = errors.New("export failed")
	ErrMaskFailed     = errors.New("mask failed")
	ErrRequestFailed  = errors.New("request failed")
	ErrNoOutputURL    = errors.New("no output URL")
	ErrDownloadFailed = errors.New("download failed")
	ErrDecodeFailed   = errors.New("decode failed")
	ErrInsertFailed   = errors.New("insert failed")
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 512

// StatusError is returned when the inpainting endpoint answers with a status
// other than 200 or 201.
type StatusError struct {
	Code   int
	Detail string // server supplied "detail", if any
	Body   string // truncated response body
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("HTTP %d", e.Code)
}

// Unwrap lets errors.Is(err, ErrRequestFailed) match status failures.
func (e *StatusError) Unwrap() error {
	return ErrRequestFailed
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
