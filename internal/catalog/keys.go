package catalog

import (
	"net/url"
	"strings"
)

// DecodeKey turns an object key as delivered by upload notifications into
// the key the object store addresses. Notifications form-encode keys, so
// every "+" is first rewritten to a space and the result is then
// percent-decoded.
//
// A malformed percent-escape makes DecodeKey return the "+"-rewritten key
// together with the decoding error; callers may log the error and carry on
// with the returned key.
func DecodeKey(raw string) (string, error) {
	spaced := strings.ReplaceAll(raw, "+", " ")
	decoded, err := url.PathUnescape(spaced)
	if err != nil {
		return spaced, err
	}
	return decoded, nil
}

// Extension returns the extension token of a decoded key: everything from
// the final "." to the end, dot included. A key without a dot yields "".
func Extension(decodedKey string) string {
	i := strings.LastIndexByte(decodedKey, '.')
	if i < 0 {
		return ""
	}
	return decodedKey[i:]
}

// Filename builds the download filename for a record.
func Filename(contentHash, decodedKey string) string {
	return contentHash + Extension(decodedKey)
}
