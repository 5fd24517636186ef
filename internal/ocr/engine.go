// Package ocr holds the processing side of the OCR request queue: the
// request/response model, the Engine boundary and the handler the worker
// consumer runs. Engines are pluggable; the production default lives in the
// tesseract subpackage.
package ocr

import "context"

// Queue is the well-known request queue consumed by the OCR worker.
const Queue = "ocr_service"

// Engine extracts text from an encoded image. It is the whole contract:
// bytes in, text out.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, image []byte) (string, error)
}

// NoopEngine recognizes nothing. Useful as a default and in tests.
type NoopEngine struct{}

func (NoopEngine) Name() string { return "noop" }

func (NoopEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	return "", nil
}
