package resolve

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

var ErrMalformedEnvEntry = errors.New("malformed environment entry")

// EnvEntry is a declared environment variable. An entry with an empty Name
// carries a KEY=VALUE pair in Value.
type EnvEntry struct {
	Name  string
	Value string
}

// Pair returns the variable name and value of the entry.
func (e EnvEntry) Pair() (string, string, error) {
	if e.Name != "" {
		return e.Name, e.Value, nil
	}
	key, value, ok := strings.Cut(e.Value, "=")
	if !ok || key == "" {
		return "", "", fmt.Errorf("%w: %q is not KEY=VALUE", ErrMalformedEnvEntry, e.Value)
	}
	return key, value, nil
}

// EnvFromEntries builds a map from entries in declaration order. A repeated
// name keeps the last value.
func EnvFromEntries(entries []EnvEntry) (map[string]string, error) {
	env := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, err := entry.Pair()
		if err != nil {
			return nil, err
		}
		env[key] = value
	}
	return env, nil
}

// Merge combines maps left to right. Entries from later maps win on key
// collision. The result is never nil.
func Merge[V any](layers ...map[string]V) map[string]V {
	merged := lo.Assign(layers...)
	if merged == nil {
		merged = map[string]V{}
	}
	return merged
}

// EnvList renders an environment map as sorted KEY=VALUE strings.
func EnvList(env map[string]string) []string {
	keys := lo.Keys(env)
	sort.Strings(keys)
	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}
	return list
}
