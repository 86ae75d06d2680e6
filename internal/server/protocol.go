package server

import (
	"bufio"
	"regexp"

	apperrors "github.com/mrscotty/keynanny/internal/errors"
)

// Wire responses. Plaintext hits are written verbatim with nothing appended.
const (
	respStored        = "STORED\r\n"
	respNotStored     = "NOT_STORED\r\n"
	respError         = "ERROR\r\n"
	respInvalidSyntax = "CLIENT_ERROR invalid syntax\r\n"
	respAccessDenied  = "CLIENT_ERROR access denied\r\n"
)

// maxLineLength bounds the command line; verb and key are both word tokens,
// so anything longer is garbage.
const maxLineLength = 1024

// linePattern is the full shape of a valid command line.
var linePattern = regexp.MustCompile(`^(\w+) (\w+)$`)

// request is one parsed command line.
type request struct {
	verb string
	key  string
}

// readCommandLine reads one line terminated by CR, LF, or CRLF. Bytes after
// the terminator stay in the reader untouched; for set they are the value.
func readCommandLine(r *bufio.Reader) (string, error) {
	line := make([]byte, 0, 64)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			return string(line), nil
		}
		if b == '\r' {
			// Swallow the LF of a CRLF pair if one follows.
			if next, err := r.Peek(1); err == nil && next[0] == '\n' {
				_, _ = r.ReadByte()
			}
			return string(line), nil
		}
		if len(line) >= maxLineLength {
			return "", apperrors.Wrap(apperrors.ErrInvalidInput, "command line too long")
		}
		line = append(line, b)
	}
}

// parseRequestLine splits a command line into verb and key.
func parseRequestLine(line string) (request, error) {
	match := linePattern.FindStringSubmatch(line)
	if match == nil {
		return request{}, apperrors.Wrapf(apperrors.ErrInvalidInput, "malformed line %q", line)
	}
	return request{verb: match[1], key: match[2]}, nil
}
