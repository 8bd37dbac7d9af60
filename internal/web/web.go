// Package web renders the upload form and the masked-result page.
package web

import (
	_ "embed"
	"html/template"
	"io"
)

//go:embed index.html
var indexHTML string

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

// ResultView is one masked file linked from the page.
type ResultView struct {
	MaskedName     string
	URL            string
	MaskedBoxCount int
}

// Page is the data behind index.html. The zero value renders the empty form.
type Page struct {
	Error   string
	Results []ResultView
}

// RenderIndex writes the upload page.
func RenderIndex(w io.Writer, page Page) error {
	return indexTmpl.Execute(w, page)
}
