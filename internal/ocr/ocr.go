// Package ocr defines the word-level OCR contract used by the masking pipeline.
// Concrete engines live in subpackages so that callers and tests do not pull in
// cgo bindings.
package ocr

import (
	"context"
	"image"
	"strings"
)

// Engine recognizes words and their pixel boxes in an image file.
type Engine interface {
	Name() string
	// Recognize reads the image at path and returns its words in scan order.
	Recognize(ctx context.Context, path string) (Result, error)
}

// Token is one recognized word with its pixel-space bounding box.
type Token struct {
	Text   string `json:"text"`
	Left   int    `json:"left"`
	Top    int    `json:"top"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Box returns the token rectangle (left, top)-(left+width, top+height).
func (t Token) Box() image.Rectangle {
	return image.Rect(t.Left, t.Top, t.Left+t.Width, t.Top+t.Height)
}

// TokenFromRect converts a rectangle back into box attributes.
func TokenFromRect(text string, r image.Rectangle) Token {
	return Token{Text: text, Left: r.Min.X, Top: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Result is the structured output of one recognition. Tokens are not unique:
// a word printed twice yields two tokens with their own boxes.
type Result struct {
	Engine string  `json:"engine"`
	Tokens []Token `json:"tokens"`
}

// Texts returns the text column of the result.
func (r Result) Texts() []string {
	out := make([]string, len(r.Tokens))
	for i, tok := range r.Tokens {
		out[i] = tok.Text
	}
	return out
}

// Boxes returns the box column of the result.
func (r Result) Boxes() []image.Rectangle {
	out := make([]image.Rectangle, len(r.Tokens))
	for i, tok := range r.Tokens {
		out[i] = tok.Box()
	}
	return out
}

// AllText space-joins every token text in scan order.
func (r Result) AllText() string {
	return strings.Join(r.Texts(), " ")
}
