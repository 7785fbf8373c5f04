// Package encoding provides the generic object serializer used for stored Redis values,
// published messages and HTTP JSON bodies.
package encoding

import (
	"bytes"
	"errors"
	"io"

	json "github.com/goccy/go-json"
)

// ErrTrailingData is returned by Unmarshal when data holds more than one JSON value.
var ErrTrailingData = errors.New("invalid JSON: unexpected data after top-level value")

// Marshaler interface specifies encoding to byte array and back to the object.
type Marshaler interface {
	// Encodes any object to byte array.
	Marshal(v any) ([]byte, error)
	// Decodes byte array back to its Object type.
	Unmarshal(data []byte, v any) error
}

// Global Default marshaler. Replace it to change how objects are stored by redis.Dump.
var DefaultMarshaler = NewMarshaler()

type defaultMarshaler struct{}

// Returns the default marshaler, JSON based.
// Numbers decoded into an untyped target come back as json.Number so integers survive the trip.
func NewMarshaler() Marshaler {
	return &defaultMarshaler{}
}

// Encodes any object to a byte array.
func (m defaultMarshaler) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decodes a byte array back to its Object type.
func (m defaultMarshaler) Unmarshal(data []byte, v any) error {
	d := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(data)))
	d.UseNumber()
	if err := d.Decode(v); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := d.Decode(&extra); !errors.Is(err, io.EOF) {
		return ErrTrailingData
	}
	return nil
}
