package layout

import (
	"net/url"

	"golang.org/x/text/unicode/norm"
)

// NormalizeID brings an identifier to NFC. Branch IDs in the clinic and
// finance verticals are frequently non-ASCII, and the same logical ID can
// arrive in either composed or decomposed form depending on the client;
// directory names must not depend on that.
func NormalizeID(id string) string {
	return norm.NFC.String(id)
}

// EncodeID converts an identifier into a filesystem-safe directory name.
func EncodeID(id string) string {
	return url.PathEscape(NormalizeID(id))
}

// DecodeID reverses EncodeID. Undecodable names are returned as-is so a
// stray directory never aborts a disk walk.
func DecodeID(name string) string {
	decoded, err := url.PathUnescape(name)
	if err != nil {
		return name
	}
	return decoded
}
