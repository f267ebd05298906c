package manifest

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"

	"github.com/w3c/groups-server/internal/domain"
)

// Numeric group ids are accepted strictly between these bounds
const (
	minGroupID = 1
	maxGroupID = 10_000_000
)

var (
	symbolicRefPattern = regexp.MustCompile(`(?i)^[a-z]{2,10}/[\w-]{2,255}$`)
	numericRefPattern  = regexp.MustCompile(`^\d{1,10}$`)
	integerPattern     = regexp.MustCompile(`^-?\d+$`)
)

// NormalizeGroupRef validates a group reference as found in a manifest or a settings file.
// Accepted forms are "category/shortname" strings, numeric strings and integers in (1, 10000000).
func NormalizeGroupRef(v any) (domain.GroupRef, bool) {
	switch ref := v.(type) {
	case string:
		if symbolicRefPattern.MatchString(ref) {
			return domain.SymbolicRef(ref), true
		}
		if numericRefPattern.MatchString(ref) {
			n, err := strconv.ParseInt(ref, 10, 64)
			if err != nil {
				return domain.GroupRef{}, false
			}
			return numericRef(n)
		}
	case json.Number:
		if !integerPattern.MatchString(ref.String()) {
			return domain.GroupRef{}, false
		}
		n, err := ref.Int64()
		if err != nil {
			return domain.GroupRef{}, false
		}
		return numericRef(n)
	case int:
		return numericRef(int64(ref))
	case int64:
		return numericRef(ref)
	case uint64:
		if ref < maxGroupID {
			return numericRef(int64(ref))
		}
	case float64:
		if ref == math.Trunc(ref) && !math.IsInf(ref, 0) {
			return numericRef(int64(ref))
		}
	}
	return domain.GroupRef{}, false
}

func numericRef(n int64) (domain.GroupRef, bool) {
	if n <= minGroupID || n >= maxGroupID {
		return domain.GroupRef{}, false
	}
	return domain.NumericRef(int(n)), true
}

// NormalizeGroupRefs normalizes a single reference or a list of references,
// dropping invalid entries and duplicates
func NormalizeGroupRefs(v any) []domain.GroupRef {
	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case nil:
		return nil
	default:
		items = []any{v}
	}

	seen := make(map[domain.GroupRef]struct{}, len(items))
	var refs []domain.GroupRef
	for _, item := range items {
		ref, ok := NormalizeGroupRef(item)
		if !ok {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}
