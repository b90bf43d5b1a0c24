package geom

import "testing"

func TestCoordEqual(t *testing.T) {
	a := Coord{1, 2, 3}
	b := Coord{1, 2, 3}
	c := Coord{1, 2, 4}
	if !a.Equal(b) {
		t.Fatalf("expected %v to equal %v", a, b)
	}
	if a.Equal(c) {
		t.Fatalf("expected %v to differ from %v", a, c)
	}
}

func TestCoordString(t *testing.T) {
	c := Coord{1, -2, 3}
	if got, want := c.String(), "[1,-2,3]"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestDVValid(t *testing.T) {
	cases := []struct {
		d    DV
		want bool
	}{
		{DV{1, 0}, true},
		{DV{-1, 0}, true},
		{DV{0, 0}, false},
		{DV{1, 1}, false},
		{DV{2, 0}, false},
	}
	for _, c := range cases {
		if got := c.d.Valid(); got != c.want {
			t.Errorf("%v.Valid() = %v, want %v", c.d, got, c.want)
		}
	}
}

func TestUnit(t *testing.T) {
	d := Unit(3, 1, -1)
	want := DV{0, -1, 0}
	if !d.Equal(want) {
		t.Fatalf("Unit(3,1,-1) = %v, want %v", d, want)
	}
}

func TestShapeVolume(t *testing.T) {
	s := Shape{4, 5, 2}
	if got, want := s.Volume(), int64(40); got != want {
		t.Fatalf("Volume() = %d, want %d", got, want)
	}
}

func TestStepToroidalWraps(t *testing.T) {
	shape := Shape{4, 4}
	c := Coord{3, 0}
	d := DV{1, 0}
	next, ok := Step(c, d, shape, true)
	if !ok {
		t.Fatal("expected toroidal step to succeed")
	}
	if want := (Coord{0, 0}); !next.Equal(want) {
		t.Fatalf("Step wrapped to %v, want %v", next, want)
	}
}

func TestStepBoundedFails(t *testing.T) {
	shape := Shape{4, 4}
	c := Coord{3, 0}
	d := DV{1, 0}
	_, ok := Step(c, d, shape, false)
	if ok {
		t.Fatal("expected bounded step off the edge to fail")
	}
}

func TestIndexRowMajor(t *testing.T) {
	shape := Shape{2, 3}
	if got, want := Index(Coord{1, 2}, shape), int64(5); got != want {
		t.Fatalf("Index = %d, want %d", got, want)
	}
}
