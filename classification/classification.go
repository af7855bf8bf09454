// Package classification holds the result currency of the predictor: scored
// labels and helpers to rank and filter them.
package classification

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Classification returns a confidence score of the classification and the
// label of the class.
type Classification interface {
	Score() float64
	Label() string
}

// NewClassification creates a simple 2D classification.
func NewClassification(score float64, label string) Classification {
	return &classification2D{score, label}
}

type classification2D struct {
	score float64
	label string
}

func (c *classification2D) Score() float64 {
	return c.score
}

func (c *classification2D) Label() string {
	return c.label
}

func (c *classification2D) String() string {
	return fmt.Sprintf("Label: %s, Score: %.4f", c.label, c.score)
}

// Classifications is a list of scored labels, one entry per class in the
// head's label index.
type Classifications []Classification

// Top returns the classification with the highest score. Ties keep the
// earliest entry, which is the lowest index in the frozen label ordering.
func (cc Classifications) Top() (Classification, error) {
	if len(cc) == 0 {
		return nil, errors.New("no classifications to rank")
	}
	best := cc[0]
	for _, c := range cc[1:] {
		if c.Score() > best.Score() {
			best = c
		}
	}
	return best, nil
}

// SortByScore orders the classifications highest score first, in place.
// Equal scores preserve their original relative order.
func (cc Classifications) SortByScore() {
	sort.SliceStable(cc, func(i, j int) bool {
		return cc[i].Score() > cc[j].Score()
	})
}

// ToMap returns the label -> score mapping.
func (cc Classifications) ToMap() map[string]float64 {
	out := make(map[string]float64, len(cc))
	for _, c := range cc {
		out[c.Label()] = c.Score()
	}
	return out
}

// Postprocessor defines a function that filters/modifies an incoming list of
// classifications.
type Postprocessor func(Classifications) Classifications

// NewScoreFilter returns a function that filters out classifications below a
// certain confidence score.
func NewScoreFilter(conf float64) Postprocessor {
	return func(in Classifications) Classifications {
		out := make(Classifications, 0, len(in))
		for _, c := range in {
			if c.Score() >= conf {
				out = append(out, c)
			}
		}
		return out
	}
}

// NewLabelFilter returns a function that filters out classifications without
// one of the chosen labels. Does not filter when the label set is empty.
func NewLabelFilter(labels map[string]interface{}) Postprocessor {
	return func(in Classifications) Classifications {
		if len(labels) < 1 {
			return in
		}
		out := make(Classifications, 0, len(in))
		for _, c := range in {
			if _, ok := labels[strings.ToLower(c.Label())]; ok {
				out = append(out, c)
			}
		}
		return out
	}
}
