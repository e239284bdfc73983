// Package render expands template bodies with per-message context values.
package render

import (
	"io"
	"strings"

	"github.com/valyala/fasttemplate"
)

// Renderer expands {{name}} tags in a template body using the supplied
// context. Tags without a matching key render as empty strings so a
// sparse context never fails a send.
type Renderer interface {
	Render(body string, ctx map[string]string) (string, error)
}

type fastRenderer struct{}

func NewRenderer() Renderer {
	return &fastRenderer{}
}

func (r *fastRenderer) Render(body string, ctx map[string]string) (string, error) {
	return fasttemplate.ExecuteFuncStringWithErr(body, "{{", "}}", func(w io.Writer, tag string) (int, error) {
		value, ok := ctx[strings.TrimSpace(tag)]
		if !ok {
			return 0, nil
		}
		return io.WriteString(w, value)
	})
}
