package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/mrscotty/keynanny/internal/client"
	"github.com/mrscotty/keynanny/internal/template"
)

// RunGet fetches one secret and writes the plaintext bytes to stdout.
// A missing key exits non-zero with no output.
func RunGet(socketFile, key string) error {
	value, ok, err := client.New(socketFile).Get(key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no secret named %s", key)
	}
	_, err = os.Stdout.Write(value)
	return err
}

// RunSet stores stdin as the secret value.
func RunSet(socketFile, key string) error {
	value, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read value from stdin: %w", err)
	}
	return client.New(socketFile).Set(key, value)
}

// RunTemplate renders a template file against daemon-held secrets and writes
// the result to stdout.
func RunTemplate(socketFile, path string, variables []string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}

	renderer := template.NewRenderer(client.New(socketFile))
	rendered, err := renderer.Render(path, src, variables)
	if err != nil {
		return err
	}

	_, err = os.Stdout.WriteString(rendered)
	return err
}
