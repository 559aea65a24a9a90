package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Parameter names carrying the signature itself; stripped before hashing.
const (
	paramSecureHash     = "vnp_SecureHash"
	paramSecureHashType = "vnp_SecureHashType"
)

// canonicalize sorts the parameter keys lexicographically, URL-encodes each
// value and joins them as key=value pairs with "&". Signature fields are
// excluded. The gateway hashes exactly this string on its side.
func canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == paramSecureHash || k == paramSecureHashType {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// Sign computes the hex-encoded HMAC-SHA512 signature of the canonicalized
// parameter map.
func Sign(params map[string]string, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(canonicalize(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over params and compares it in constant
// time against the supplied hash.
func Verify(params map[string]string, secret, suppliedHash string) bool {
	expected := Sign(params, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(suppliedHash)))
}
