package fragment

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jcdickinson/implindex/internal/implreg"
)

// Format names a fragment wire shape.
type Format string

const (
	FormatAuto Format = "auto"
	FormatJSON Format = "json"
	FormatJS   Format = "js"
)

// ParseFormat validates a user-supplied format name. Empty means auto.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatJSON, FormatJS:
		return f, nil
	default:
		return "", fmt.Errorf("unknown fragment format %q (want auto, json or js)", s)
	}
}

// Sniff picks a concrete format for data named name.
func Sniff(name string, data []byte) Format {
	if strings.HasSuffix(name, ".js") {
		return FormatJS
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatJS
}

// Decode decodes data in the given format. name is the fragment's file path,
// which the JS format needs to derive its trait key.
func Decode(source, name string, data []byte, format Format) (implreg.Payload, Format, error) {
	if format == FormatAuto || format == "" {
		format = Sniff(name, data)
	}
	switch format {
	case FormatJSON:
		p, err := DecodeJSON(source, data)
		return p, format, err
	case FormatJS:
		p, err := DecodeImplJS(source, name, data)
		return p, format, err
	default:
		return implreg.Payload{Source: source}, format, fmt.Errorf("unknown fragment format %q", format)
	}
}
