package settings

import "strings"

// Redacted replaces short secrets entirely.
const Redacted = "***REDACTED***"

// Mask hides a credential, keeping a short prefix and suffix of long ones.
func Mask(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	r := []rune(value)
	if len(r) < 12 {
		return Redacted
	}
	return string(r[:4]) + strings.Repeat("*", 6) + string(r[len(r)-4:])
}

// Masked returns a copy with both credentials masked.
func (s Snapshot) Masked() Snapshot {
	out := s
	for _, k := range allKeys {
		if k.Secret() {
			*out.field(k) = Mask(s.Value(k))
		}
	}
	return out
}
