package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Validation limits for inbound request and webhook payloads.
const (
	DefaultMaxPayloadSize = 64 << 10 // 64 KiB
	DefaultMaxJSONDepth   = 16
)

// Validation errors.
var (
	ErrPayloadTooLarge = errors.New("security: payload exceeds maximum size")
	ErrJSONTooDeep     = errors.New("security: JSON nesting exceeds maximum depth")
	ErrInvalidJSON     = errors.New("security: invalid JSON")
)

// ValidatePayloadSize checks that data does not exceed limit bytes.
// If limit is <= 0, DefaultMaxPayloadSize is used.
func ValidatePayloadSize(data []byte, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxPayloadSize
	}
	if len(data) > limit {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(data), limit)
	}
	return nil
}

// ValidateJSONDepth checks that the JSON in data does not nest deeper
// than limit levels and that every object and array is closed. If limit is
// <= 0, DefaultMaxJSONDepth is used.
func ValidateJSONDepth(data []byte, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxJSONDepth
	}
	if len(data) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if depth != 0 {
					return fmt.Errorf("%w: unexpected end of input at depth %d", ErrInvalidJSON, depth)
				}
				return nil
			}
			return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}

		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > limit {
				return fmt.Errorf("%w: depth %d (max %d)", ErrJSONTooDeep, depth, limit)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}

// ValidatePayload applies both size and depth checks with default limits.
func ValidatePayload(data []byte) error {
	if err := ValidatePayloadSize(data, 0); err != nil {
		return err
	}
	return ValidateJSONDepth(data, 0)
}
