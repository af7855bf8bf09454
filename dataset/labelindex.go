package dataset

import (
	"sort"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownLabel is returned when a label is not part of the index.
	ErrUnknownLabel = errors.New("label not present in label index")
	// ErrIndexOutOfRange is returned when a class index is outside [0, C).
	ErrIndexOutOfRange = errors.New("class index out of range")
)

// LabelIndex is a frozen bidirectional mapping between class names and dense
// integer indices. Indices are assigned by lexicographic order at build time,
// so building twice from the same label set always yields the same mapping.
// A trained head keeps the index it was built against even after the dataset
// changes underneath it.
type LabelIndex struct {
	labels  []string
	indexOf map[string]int
}

// BuildLabelIndex constructs an index from a set of labels. Duplicates are
// collapsed.
func BuildLabelIndex(labels []string) *LabelIndex {
	seen := make(map[string]struct{}, len(labels))
	distinct := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		distinct = append(distinct, l)
	}
	sort.Strings(distinct)
	idx := make(map[string]int, len(distinct))
	for i, l := range distinct {
		idx[l] = i
	}
	return &LabelIndex{labels: distinct, indexOf: idx}
}

// Len returns the number of classes C.
func (li *LabelIndex) Len() int {
	return len(li.labels)
}

// IndexOf returns the dense index for a label.
func (li *LabelIndex) IndexOf(label string) (int, error) {
	i, ok := li.indexOf[label]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownLabel, "label %q", label)
	}
	return i, nil
}

// LabelOf returns the label at a dense index.
func (li *LabelIndex) LabelOf(index int) (string, error) {
	if index < 0 || index >= len(li.labels) {
		return "", errors.Wrapf(ErrIndexOutOfRange, "index %d with %d classes", index, len(li.labels))
	}
	return li.labels[index], nil
}

// Labels returns the labels in index order. The caller must not modify the
// returned slice.
func (li *LabelIndex) Labels() []string {
	return li.labels
}
