// Package serial turns small Go values into opaque, URL safe tokens and back.
package serial

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"errors"
)

var (
	ErrSerialization = errors.New("failed to serialize payload")
	ErrMalformed     = errors.New("malformed token")
)

var encoding = base64.RawURLEncoding

// Encode gob-encodes in and returns it as unpadded URL safe base64.
func Encode(in any) (string, error) {
	var buffer bytes.Buffer
	if err := gob.NewEncoder(&buffer).Encode(in); err != nil {
		return "", ErrSerialization
	}
	return encoding.EncodeToString(buffer.Bytes()), nil
}

// Decode reverses Encode into out, which must be a pointer.
func Decode(token string, out any) error {
	if token == "" {
		return ErrMalformed
	}
	data, err := encoding.DecodeString(token)
	if err != nil {
		return ErrMalformed
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(out); err != nil {
		return ErrMalformed
	}
	return nil
}
