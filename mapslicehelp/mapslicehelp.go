package mapslicehelp

import (
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/exp/constraints"
)

func AsKeys[T constraints.Ordered](elements []T) map[T]any {
	mapped := make(map[T]any, len(elements))
	for _, element := range elements {
		mapped[element] = struct{}{}
	}
	return mapped
}

// HasDuplicates reports whether an element occurs more than once.
func HasDuplicates[T constraints.Ordered](elements []T) bool {
	return len(AsKeys(elements)) != len(elements)
}

func OrderedMapKeys[K comparable, V any](m *orderedmap.OrderedMap[K, V]) []K {
	l := make([]K, m.Len())
	i := 0
	for p := m.Oldest(); p != nil; p = p.Next() {
		l[i] = p.Key
		i++
	}
	return l
}

// SortedOrderedMap copies m into an ordered map with ascending keys.
func SortedOrderedMap[K constraints.Ordered, V any](m map[K]V) *orderedmap.OrderedMap[K, V] {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	om := orderedmap.New[K, V]()
	for _, k := range keys {
		om.Set(k, m[k])
	}
	return om
}
