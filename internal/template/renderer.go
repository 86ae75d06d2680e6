// Package template renders config-consumer templates whose variables are
// fetched from the daemon. A template line like {{ keyval "db_password" }}
// pulls the named secret through the socket protocol.
package template

import (
	"bytes"
	"fmt"
	"text/template"

	apperrors "github.com/mrscotty/keynanny/internal/errors"
)

// Fetcher retrieves one secret by key.
type Fetcher interface {
	Get(key string) ([]byte, bool, error)
}

// Renderer executes text templates against daemon-held secrets.
type Renderer struct {
	fetcher Fetcher
}

// NewRenderer creates a renderer fetching through the given client.
func NewRenderer(fetcher Fetcher) *Renderer {
	return &Renderer{fetcher: fetcher}
}

// Render parses and executes src. Pre-seeded variables are available as
// {{ .name }}; the keyval function fetches any further secret on demand.
// A referenced secret that does not exist fails the render.
func (r *Renderer) Render(name string, src []byte, variables []string) (string, error) {
	data := make(map[string]string, len(variables))
	for _, variable := range variables {
		value, ok, err := r.fetcher.Get(variable)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", apperrors.Wrapf(apperrors.ErrNotFound, "template variable %s", variable)
		}
		data[variable] = string(value)
	}

	tmpl, err := template.New(name).Funcs(template.FuncMap{
		"keyval": func(key string) (string, error) {
			value, ok, err := r.fetcher.Get(key)
			if err != nil {
				return "", err
			}
			if !ok {
				return "", fmt.Errorf("no secret named %s", key)
			}
			return string(value), nil
		},
	}).Parse(string(src))
	if err != nil {
		return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "parse template: %v", err)
	}

	var out bytes.Buffer
	if err := tmpl.Execute(&out, data); err != nil {
		return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "render template: %v", err)
	}
	return out.String(), nil
}
