package classification

import (
	"testing"

	"go.viam.com/test"
)

func TestTop(t *testing.T) {
	cc := Classifications{
		NewClassification(0.2, "birds"),
		NewClassification(0.5, "cats"),
		NewClassification(0.3, "dogs"),
	}
	top, err := cc.Top()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, top.Label(), test.ShouldEqual, "cats")
	test.That(t, top.Score(), test.ShouldEqual, 0.5)

	_, err = Classifications{}.Top()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTopTieBreaksOnFirst(t *testing.T) {
	cc := Classifications{
		NewClassification(0.5, "cats"),
		NewClassification(0.5, "dogs"),
	}
	top, err := cc.Top()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, top.Label(), test.ShouldEqual, "cats")
}

func TestSortByScore(t *testing.T) {
	cc := Classifications{
		NewClassification(0.1, "birds"),
		NewClassification(0.7, "cats"),
		NewClassification(0.2, "dogs"),
	}
	cc.SortByScore()
	test.That(t, cc[0].Label(), test.ShouldEqual, "cats")
	test.That(t, cc[1].Label(), test.ShouldEqual, "dogs")
	test.That(t, cc[2].Label(), test.ShouldEqual, "birds")
}

func TestToMap(t *testing.T) {
	cc := Classifications{
		NewClassification(0.7, "cats"),
		NewClassification(0.3, "dogs"),
	}
	test.That(t, cc.ToMap(), test.ShouldResemble, map[string]float64{"cats": 0.7, "dogs": 0.3})
}

func TestScoreFilter(t *testing.T) {
	cc := Classifications{
		NewClassification(0.7, "cats"),
		NewClassification(0.3, "dogs"),
	}
	out := NewScoreFilter(0.5)(cc)
	test.That(t, len(out), test.ShouldEqual, 1)
	test.That(t, out[0].Label(), test.ShouldEqual, "cats")
}

func TestLabelFilter(t *testing.T) {
	cc := Classifications{
		NewClassification(0.7, "Cats"),
		NewClassification(0.3, "dogs"),
	}
	out := NewLabelFilter(map[string]interface{}{"cats": true})(cc)
	test.That(t, len(out), test.ShouldEqual, 1)
	test.That(t, out[0].Label(), test.ShouldEqual, "Cats")

	// empty filter passes everything through
	out = NewLabelFilter(nil)(cc)
	test.That(t, len(out), test.ShouldEqual, 2)
}
