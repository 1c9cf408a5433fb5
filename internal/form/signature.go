package form

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// Signature identifies a page by its address (without fragment) and the
// ordered set of actionable controls. Two pages with the same signature are
// treated as the same form step.
func Signature(pageURL string, fields []FieldDescriptor) string {
	h := sha256.New()

	if u, err := url.Parse(pageURL); err == nil {
		u.Fragment = ""
		u.RawFragment = ""
		pageURL = u.String()
	}
	h.Write([]byte(pageURL))

	for _, f := range fields {
		if !f.Actionable() {
			continue
		}
		h.Write([]byte{'\n'})
		h.Write([]byte(f.ID))
		h.Write([]byte{'|'})
		h.Write([]byte(f.Kind.String()))
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}
