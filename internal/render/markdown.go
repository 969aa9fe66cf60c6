// Package render turns the streamed summary into HTML for display.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// md renders GitHub-flavoured markdown with single newlines kept as line
// breaks, matching how the summary reads while it streams. Raw HTML from the
// model is not passed through.
var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// Markdown converts text to an HTML fragment. It has no side effects and
// may be called on a partial buffer at any point during a stream.
func Markdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("render: markdown: %w", err)
	}
	return buf.String(), nil
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<main class="summary">
{{.Body}}
</main>
</body>
</html>
`))

// Page writes a standalone HTML document containing the rendered buffer.
func Page(w io.Writer, title, text string) error {
	body, err := Markdown(text)
	if err != nil {
		return err
	}
	return pageTemplate.Execute(w, struct {
		Title string
		Body  template.HTML
	}{Title: title, Body: template.HTML(body)})
}
