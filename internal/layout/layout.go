// Package layout computes the deterministic on-disk paths and ids that a
// storage adapter uses to locate an Array or VArray's payload: a hashed
// main path derived from its id, and a human-browsable symlink path
// derived from its primary attribute values.
package layout

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// idNamespace roots every generated id in a fixed namespace so ids are
// reproducible across runs for the same (collection, primary attributes)
// pair, the way a UUIDv5 is meant to be used.
var idNamespace = uuid.MustParse("c9c918c6-6a1e-4e43-9e11-7f6c2e6e6e39")

// NewID deterministically derives an array/varray id from its owning
// collection name and the ordered string form of its primary attribute
// values. Equal inputs always yield the same id.
func NewID(collectionName string, primaryAttrValues []string) string {
	name := collectionName + "|" + strings.Join(primaryAttrValues, "|")
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}

// MainPath builds the hashed storage path for an id under dataDir: the id
// is split at its first '-', the leading segment is exploded into one
// directory per character, and the remainder becomes the final path
// component (the array's own subdirectory).
func MainPath(dataDir, id string) string {
	head, rest, found := strings.Cut(id, "-")
	if !found {
		head, rest = id, ""
	}
	segments := make([]string, 0, len(head)+1)
	for _, r := range head {
		segments = append(segments, string(r))
	}
	parts := append([]string{dataDir}, segments...)
	if rest != "" {
		parts = append(parts, rest)
	}
	return filepath.Join(parts...)
}

// PrimaryAttrValue is one primary-attribute value to lay out into a
// symlink path, already resolved to its logical value; SerializeAttrValue
// turns it into the matching path segment.
type PrimaryAttrValue struct {
	Name  string
	Value any // string, int, float64, time.Time, []int (v_position)
}

// SymlinkPath builds the human-browsable symlink path for an array from
// its ordered primary attribute values under symlinksDir.
func SymlinkPath(symlinksDir string, values []PrimaryAttrValue) string {
	parts := []string{symlinksDir}
	for _, v := range values {
		parts = append(parts, SerializeAttrValue(v.Name, v.Value))
	}
	return filepath.Join(parts...)
}

// SerializeAttrValue renders one primary attribute value into its path
// segment form: v_position becomes a dash-joined tuple, datetimes are
// RFC3339, everything else uses its default string form.
func SerializeAttrValue(name string, value any) string {
	if name == "v_position" {
		switch vp := value.(type) {
		case []int:
			parts := make([]string, len(vp))
			for i, p := range vp {
				parts[i] = strconv.Itoa(p)
			}
			return strings.Join(parts, "-")
		}
	}
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return strToDefault(value)
	}
}

func strToDefault(v any) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return ""
}
