// Package identity discovers the identity directories under the dataset
// root and maintains the mapping between identity ids and the dense class
// indices conditioning vectors are looked up with.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"vouch/internal/services"
)

// DirPrefix is the naming convention for identity directories.
const DirPrefix = "ID_"

// Mapping is the bijection between identity ids and dense indices. Ids are
// sorted ascending so the mapping is stable across runs over the same data.
type Mapping struct {
	dataRoot string
	ids      []int
	index    map[int]int
}

// Discover scans dataRoot for ID_<n> directories and builds the mapping.
// Entries that are not directories or do not parse as ID_<n> are skipped.
func Discover(dataRoot string) (*Mapping, error) {
	entries, err := os.ReadDir(dataRoot)
	if err != nil {
		return nil, services.Wrap(services.ErrMissingData, "identity", "discover", "read data root", err)
	}

	var ids []int
	seen := map[int]struct{}{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, ok := parseDirName(entry.Name())
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			return nil, services.Wrap(services.ErrValidation, "identity", "discover",
				fmt.Sprintf("duplicate identity id %d", id), nil)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return nil, services.Wrap(services.ErrMissingData, "identity", "discover",
			fmt.Sprintf("no %s<n> directories under %s", DirPrefix, dataRoot), nil)
	}

	sort.Ints(ids)
	index := make(map[int]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	return &Mapping{dataRoot: dataRoot, ids: ids, index: index}, nil
}

// Count returns the number of known identities.
func (m *Mapping) Count() int { return len(m.ids) }

// IDs returns the identity ids in ascending order.
func (m *Mapping) IDs() []int {
	out := make([]int, len(m.ids))
	copy(out, m.ids)
	return out
}

// Index returns the dense class index for an identity id.
func (m *Mapping) Index(id int) (int, error) {
	idx, ok := m.index[id]
	if !ok {
		return 0, services.Wrap(services.ErrValidation, "identity", "index",
			fmt.Sprintf("unknown identity id %d", id), nil)
	}
	return idx, nil
}

// Dir returns the directory holding an identity's reference images.
func (m *Mapping) Dir(id int) (string, error) {
	if _, ok := m.index[id]; !ok {
		return "", services.Wrap(services.ErrValidation, "identity", "dir",
			fmt.Sprintf("unknown identity id %d", id), nil)
	}
	return filepath.Join(m.dataRoot, DirName(id)), nil
}

// DirName formats an identity id as its on-disk directory name.
func DirName(id int) string {
	return DirPrefix + strconv.Itoa(id)
}

func parseDirName(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, DirPrefix)
	if !ok || rest == "" {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id < 0 {
		return 0, false
	}
	// Reject forms like ID_007 so each id has exactly one directory name.
	if strconv.Itoa(id) != rest {
		return 0, false
	}
	return id, true
}
