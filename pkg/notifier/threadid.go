package notifier

import (
	"encoding/json"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

var decimalRegex = regexp.MustCompile(`^[+-]?[0-9]+$`)

// ThreadID identifies one Spectrum thread. Spectrum emits both numeric and
// opaque alphanumeric identifiers, so the original text is always kept and
// the arbitrary-precision integer is only set when Raw is a base-10 integer.
type ThreadID struct {
	numeric *big.Int
	raw     string
}

// ParseThreadID builds a ThreadID from any identifier value found in an API
// response or the store. It returns nil for nil input and for values that
// are empty once surrounding whitespace is removed.
func ParseThreadID(v any) *ThreadID {
	var raw string
	switch val := v.(type) {
	case nil:
		return nil
	case *ThreadID:
		return val
	case string:
		raw = val
	case json.Number:
		raw = val.String()
	case *big.Int:
		if val == nil {
			return nil
		}
		raw = val.String()
	case int:
		raw = strconv.Itoa(val)
	case int32:
		raw = strconv.FormatInt(int64(val), 10)
	case int64:
		raw = strconv.FormatInt(val, 10)
	case uint32:
		raw = strconv.FormatUint(uint64(val), 10)
	case uint64:
		raw = strconv.FormatUint(val, 10)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		raw = strconv.FormatFloat(val, 'f', -1, 64)
	case interface{ String() string }:
		raw = val.String()
	default:
		return nil
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	id := &ThreadID{raw: raw}
	if decimalRegex.MatchString(raw) {
		n, ok := new(big.Int).SetString(raw, 10)
		if ok {
			id.numeric = n
		}
	}
	return id
}

// String returns the identifier exactly as it was received.
func (id *ThreadID) String() string {
	if id == nil {
		return ""
	}
	return id.raw
}

// Numeric returns a copy of the parsed integer, or nil for opaque identifiers.
func (id *ThreadID) Numeric() *big.Int {
	if id == nil || id.numeric == nil {
		return nil
	}
	return new(big.Int).Set(id.numeric)
}

// Equal reports whether both identifiers have the same text.
func (id *ThreadID) Equal(other *ThreadID) bool {
	if id == nil || other == nil {
		return id == other
	}
	return id.raw == other.raw
}

// CompareThreadIDs orders identifiers. Both numeric: integer comparison.
// Otherwise the raw strings are compared byte-wise, which is code-point
// order for UTF-8. A nil identifier sorts before everything.
func CompareThreadIDs(a, b *ThreadID) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if a.numeric != nil && b.numeric != nil {
		return a.numeric.Cmp(b.numeric)
	}
	return strings.Compare(a.raw, b.raw)
}

// IsNewer reports whether a is strictly newer than b. Anything is newer
// than nil ("nothing seen yet").
func IsNewer(a, b *ThreadID) bool {
	if b == nil {
		return a != nil
	}
	if a == nil {
		return false
	}
	return CompareThreadIDs(a, b) > 0
}
