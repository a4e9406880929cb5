package app

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

var errEmptyKey = errors.New("key value is empty")

var keyEncodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// DecodeKey turns a configured secret into raw bytes. Hex is tried first
// because generated secrets are hex, then the base64 variants. Anything
// else is used verbatim.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, errEmptyKey
	}

	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded, nil
		}
	}
	for _, enc := range keyEncodings {
		if decoded, err := enc.DecodeString(v); err == nil {
			return decoded, nil
		}
	}
	return []byte(v), nil
}

// KeyByteLength returns the decoded byte length of a key string. An empty
// value has length zero.
func KeyByteLength(value string) (int, error) {
	decoded, err := DecodeKey(value)
	if errors.Is(err, errEmptyKey) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(decoded), nil
}
