package canonicalize

import "golang.org/x/text/unicode/norm"

// NormalizeNFC returns a copy of v with every string value, and every
// object key, normalized to Unicode NFC form. Values are expected to be
// generic decoded JSON (map[string]interface{}, []interface{}, string,
// bool, numbers, nil); other types are returned unchanged.
//
// Preview fingerprints normalize before hashing so the same file path or
// command typed in composed and decomposed Unicode forms produces the
// same digest.
func NormalizeNFC(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[norm.NFC.String(k)] = NormalizeNFC(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = NormalizeNFC(val)
		}
		return out
	default:
		return v
	}
}
