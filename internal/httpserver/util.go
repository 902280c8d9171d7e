package httpserver

import (
	"encoding/json"
	"io"
	"regexp"
)

// txHashPattern validates 32-byte hex hashes on the x402 routes.
var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// decodeJSON decodes a JSON request body into the destination struct.
// The reader will be closed after decoding.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}
