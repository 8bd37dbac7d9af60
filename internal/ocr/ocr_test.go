package ocr

import (
	"image"
	"testing"
)

func TestResultColumns(t *testing.T) {
	res := Result{Tokens: []Token{
		{Text: "Invoice", Left: 5, Top: 5, Width: 40, Height: 12},
		{Text: "Altoona", Left: 10, Top: 10, Width: 50, Height: 20},
		{Text: "Altoona", Left: 10, Top: 40, Width: 50, Height: 20},
	}}

	if got := res.AllText(); got != "Invoice Altoona Altoona" {
		t.Errorf("AllText() = %q", got)
	}

	boxes := res.Boxes()
	if len(boxes) != 3 {
		t.Fatalf("Boxes() returned %d entries", len(boxes))
	}
	if want := image.Rect(10, 10, 60, 30); boxes[1] != want {
		t.Errorf("Boxes()[1] = %v, want %v", boxes[1], want)
	}
}

func TestTokenFromRect(t *testing.T) {
	r := image.Rect(70, 10, 100, 30)
	tok := TokenFromRect("John", r)
	if tok.Left != 70 || tok.Top != 10 || tok.Width != 30 || tok.Height != 20 {
		t.Errorf("TokenFromRect = %+v", tok)
	}
	if tok.Box() != r {
		t.Errorf("round trip box = %v, want %v", tok.Box(), r)
	}
}

func TestEmptyResult(t *testing.T) {
	var res Result
	if res.AllText() != "" {
		t.Errorf("AllText() of empty result = %q", res.AllText())
	}
}
