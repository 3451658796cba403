package platform

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// Format is the wire format of a request or response body.
type Format int

const (
	FormatXML Format = iota
	FormatJSON
)

func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "application/xml"
}

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "xml"
}

// ParseFormat accepts "xml" or "json" in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "xml", "":
		return FormatXML, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatXML, fmt.Errorf("unknown format %q", s)
}

// Serialize encodes a request object in the given format.
func Serialize(v any, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.Marshal(v)
	case FormatXML:
		return xml.Marshal(v)
	}
	return nil, fmt.Errorf("unknown format %d", format)
}

// Deserialize decodes a response body in the given format.
func Deserialize(data []byte, v any, format Format) error {
	switch format {
	case FormatJSON:
		return json.Unmarshal(data, v)
	case FormatXML:
		return xml.Unmarshal(data, v)
	}
	return fmt.Errorf("unknown format %d", format)
}
