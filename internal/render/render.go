// Package render turns a markdown template with optional YAML front matter
// into the subject, HTML body and text body of a message.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidFrontMatter is returned for an unterminated or non-YAML header.
	ErrInvalidFrontMatter = errors.New("invalid front matter")

	// ErrRenderFailed wraps template parse, execute and markdown errors.
	ErrRenderFailed = errors.New("failed to render template")
)

const delimiter = "---"

var md = goldmark.New()

// Result is a rendered template. Text is the executed markdown source,
// HTML its conversion.
type Result struct {
	Subject  string
	HTML     string
	Text     string
	Metadata map[string]any
}

// Markdown executes src with data using text/template and converts the
// result to HTML. A "subject" key in the front matter is executed with the
// same data and returned as Subject.
func Markdown(src string, data any) (*Result, error) {
	meta, body, err := splitFrontMatter(src)
	if err != nil {
		return nil, err
	}

	text, err := execute("body", body, data)
	if err != nil {
		return nil, err
	}

	var html bytes.Buffer
	if err := md.Convert([]byte(text), &html); err != nil {
		return nil, fmt.Errorf("%w: failed to convert markdown: %v", ErrRenderFailed, err)
	}

	res := &Result{HTML: html.String(), Text: text, Metadata: meta}
	if subject, ok := lookup(meta, "subject"); ok {
		res.Subject, err = execute("subject", fmt.Sprint(subject), data)
		if err != nil {
			return nil, err
		}
		res.Subject = strings.TrimSpace(res.Subject)
	}
	return res, nil
}

func execute(name, src string, data any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRenderFailed, name, err)
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRenderFailed, name, err)
	}
	return out.String(), nil
}

// splitFrontMatter separates a leading "---" delimited YAML block from the
// body. Content that does not open with a delimiter line is all body.
func splitFrontMatter(src string) (map[string]any, string, error) {
	meta := make(map[string]any)
	if !strings.HasPrefix(src, delimiter) {
		return meta, src, nil
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(src, delimiter), "\r")
	if !strings.HasPrefix(rest, "\n") {
		return meta, src, nil
	}
	rest = rest[1:]

	var header, body string
	if strings.HasPrefix(rest, delimiter) {
		body = rest[len(delimiter):]
	} else {
		end := strings.Index(rest, "\n"+delimiter)
		if end < 0 {
			return nil, "", fmt.Errorf("%w: closing delimiter not found", ErrInvalidFrontMatter)
		}
		header = rest[:end]
		body = rest[end+1+len(delimiter):]
	}
	body = strings.TrimPrefix(strings.TrimPrefix(body, "\r"), "\n")

	if strings.TrimSpace(header) != "" {
		if err := yaml.Unmarshal([]byte(header), &meta); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidFrontMatter, err)
		}
	}
	return meta, body, nil
}

// lookup finds key in meta ignoring case.
func lookup(meta map[string]any, key string) (any, bool) {
	for k, v := range meta {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
