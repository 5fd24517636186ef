// Package tesseract backs the ocr.Engine boundary with the gosseract
// client. It is kept in its own package so binaries that do not need the
// native dependency can build without it.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Engine runs local Tesseract recognition. A fresh client is created per
// call; gosseract clients are not safe for concurrent use.
type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

type Option func(*Engine)

// WithLanguages sets the trained-data languages, e.g. "eng", "rus".
func WithLanguages(langs ...string) Option {
	return func(e *Engine) { e.languages = append([]string(nil), langs...) }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		languages:     []string{"eng", "rus"},
		clientFactory: gosseract.NewClient,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize extracts text from an encoded image. Lines are joined with
// single spaces to produce one linear string.
func (e *Engine) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return strings.Join(strings.Fields(text), " "), nil
}
