// Package dataset holds the in-memory training set: labeled image examples,
// per-label counts, and the frozen label index used by trained heads.
package dataset

// Example is one labeled training image. Image holds the still-undecoded
// bytes; the store owns them from import until Clear.
type Example struct {
	Image []byte
	Label string
}

// Store accumulates labeled examples over a session. It is not safe for
// concurrent use; the pipeline serializes access to it.
type Store struct {
	examples []Example
	counts   map[string]int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{counts: map[string]int{}}
}

// AddExamples appends a batch of examples and updates the per-label counts.
// Any string is a valid label, the empty string included.
func (s *Store) AddExamples(batch []Example) {
	s.examples = append(s.examples, batch...)
	for _, ex := range batch {
		s.counts[ex.Label]++
	}
}

// Clear atomically empties the examples and counts. Heads trained from earlier
// contents are unaffected; they hold their own frozen label index.
func (s *Store) Clear() {
	s.examples = nil
	s.counts = map[string]int{}
}

// Len returns the number of held examples.
func (s *Store) Len() int {
	return len(s.examples)
}

// Examples returns the held examples in insertion order. The caller must not
// modify the returned slice.
func (s *Store) Examples() []Example {
	return s.examples
}

// Labels returns the distinct labels currently held, in no particular order.
func (s *Store) Labels() []string {
	out := make([]string, 0, len(s.counts))
	for l := range s.counts {
		out = append(out, l)
	}
	return out
}

// SnapshotLabelCounts returns a copy of the label counts for display.
func (s *Store) SnapshotLabelCounts() map[string]int {
	out := make(map[string]int, len(s.counts))
	for l, n := range s.counts {
		out[l] = n
	}
	return out
}
