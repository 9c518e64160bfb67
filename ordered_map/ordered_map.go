package orderedmap

// OrderedMap is a map that remembers first-insertion order. Re-setting an
// existing key replaces its value but keeps its position.
type OrderedMap[K comparable, V any] struct {
	underlying map[K]V
	order      []K
}

func NewOrderedMap[K comparable, V any]() *OrderedMap[K, V] {
	return &OrderedMap[K, V]{
		underlying: make(map[K]V),
		order:      make([]K, 0),
	}
}

func (m *OrderedMap[K, V]) Set(key K, value V) {
	if _, exists := m.underlying[key]; !exists {
		m.order = append(m.order, key)
	}
	m.underlying[key] = value
}

func (m *OrderedMap[K, V]) Get(key K) (V, bool) {
	value, ok := m.underlying[key]
	return value, ok
}

func (m *OrderedMap[K, V]) Has(key K) bool {
	_, ok := m.underlying[key]
	return ok
}

// Keys returns a copy of the keys in insertion order.
func (m *OrderedMap[K, V]) Keys() []K {
	keys := make([]K, len(m.order))
	copy(keys, m.order)
	return keys
}

func (m *OrderedMap[K, V]) Values() []V {
	values := make([]V, len(m.order))
	for i, k := range m.order {
		values[i] = m.underlying[k]
	}
	return values
}

func (m *OrderedMap[K, V]) Len() int {
	return len(m.order)
}
