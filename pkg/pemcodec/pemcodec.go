// Package pemcodec frames a single public key as a PEM block:
//
//	-----BEGIN PUBLIC KEY-----
//	<base64 of the key material, 64 characters per line>
//	-----END PUBLIC KEY-----
//
// Decoding is strict by default: header and footer must appear as whole lines.
// A permissive mode reproduces the behavior of older readers, which removed
// the delimiters wherever they occurred and tolerated their absence.
package pemcodec

import (
	"bufio"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode"

	"github.com/tinywideclouds/go-key-archive/pkg/keys"
)

const (
	blockType = "PUBLIC KEY"
	header    = "-----BEGIN " + blockType + "-----"
	footer    = "-----END " + blockType + "-----"

	maxLineLength = 1 << 20
)

// Mode selects how Decode treats the PEM delimiters.
type Mode string

const (
	// ModeStrict requires the header and footer as exact lines.
	ModeStrict Mode = "strict"
	// ModePermissive strips the delimiters wherever found and logs a warning
	// when one is missing.
	ModePermissive Mode = "permissive"
)

// ParseMode converts a configuration value into a Mode. An empty string
// selects ModeStrict.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeStrict:
		return ModeStrict, nil
	case ModePermissive:
		return ModePermissive, nil
	default:
		return "", fmt.Errorf("unknown pem mode %q: use %q or %q", s, ModeStrict, ModePermissive)
	}
}

type decodeOptions struct {
	mode   Mode
	logger *slog.Logger
}

// Option configures Decode.
type Option func(*decodeOptions)

// WithMode selects the decoding mode.
func WithMode(mode Mode) Option {
	return func(o *decodeOptions) { o.mode = mode }
}

// WithLogger sets the logger used for permissive-mode warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *decodeOptions) { o.logger = logger }
}

// Encode writes key to w as a PEM block. The writer is neither flushed nor
// closed.
func Encode(w io.Writer, key keys.Key) error {
	if key.IsZero() {
		return fmt.Errorf("%w: key is required", keys.ErrInvalidArgument)
	}
	if err := pem.Encode(w, &pem.Block{Type: blockType, Bytes: key.Bytes()}); err != nil {
		return fmt.Errorf("failed to write pem block: %w", err)
	}
	return nil
}

// EncodeToString returns the PEM block for key.
func EncodeToString(key keys.Key) (string, error) {
	var sb strings.Builder
	if err := Encode(&sb, key); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Decode reads one PEM block from r and builds a key of the given algorithm.
func Decode(r io.Reader, algorithm string, opts ...Option) (keys.Key, error) {
	o := decodeOptions{mode: ModeStrict, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		body string
		err  error
	)
	switch o.mode {
	case ModeStrict:
		body, err = readStrict(r)
	case ModePermissive:
		body, err = readPermissive(r, o.logger)
	default:
		return keys.Key{}, fmt.Errorf("%w: unknown pem mode %q", keys.ErrInvalidArgument, o.mode)
	}
	if err != nil {
		return keys.Key{}, err
	}

	material, err := base64.StdEncoding.DecodeString(stripSpace(body))
	if err != nil {
		return keys.Key{}, fmt.Errorf("%w: invalid base64 content: %v", keys.ErrMalformedKeyFormat, err)
	}
	return keys.New(algorithm, material)
}

// DecodeString decodes a PEM block held in a string.
func DecodeString(pemText, algorithm string, opts ...Option) (keys.Key, error) {
	return Decode(strings.NewReader(pemText), algorithm, opts...)
}

// ReadFile decodes the PEM block stored in the file at path.
func ReadFile(path, algorithm string, opts ...Option) (keys.Key, error) {
	f, err := os.Open(path)
	if err != nil {
		return keys.Key{}, fmt.Errorf("failed to open pem file %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f, algorithm, opts...)
}

func readStrict(r io.Reader) (string, error) {
	scanner := newLineScanner(r)

	found := false
	for scanner.Scan() {
		if trimEOL(scanner.Text()) == header {
			found = true
			break
		}
	}
	if err := scanError(scanner); err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: missing %s", keys.ErrMalformedKeyFormat, header)
	}

	var body strings.Builder
	for scanner.Scan() {
		line := trimEOL(scanner.Text())
		if line == footer {
			return body.String(), nil
		}
		body.WriteString(line)
	}
	if err := scanError(scanner); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%w: missing %s", keys.ErrMalformedKeyFormat, footer)
}

func readPermissive(r io.Reader, logger *slog.Logger) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read pem data: %w", err)
	}
	text := string(data)
	if !strings.Contains(text, header) {
		logger.Warn("PEM header missing, decoding content as bare base64", "header", header)
	}
	if !strings.Contains(text, footer) {
		logger.Warn("PEM footer missing, decoding content up to end of input", "footer", footer)
	}
	text = strings.ReplaceAll(text, header, "")
	text = strings.ReplaceAll(text, footer, "")
	return text, nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	return scanner
}

func scanError(scanner *bufio.Scanner) error {
	err := scanner.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bufio.ErrTooLong):
		return fmt.Errorf("%w: line exceeds %d bytes", keys.ErrMalformedKeyFormat, maxLineLength)
	default:
		return fmt.Errorf("failed to read pem data: %w", err)
	}
}

// trimEOL drops the carriage return left behind by CRLF line endings.
func trimEOL(line string) string {
	return strings.TrimSuffix(line, "\r")
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
