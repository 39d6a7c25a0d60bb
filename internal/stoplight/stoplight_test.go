package stoplight

import "testing"

func TestRunAllCarsFinish(t *testing.T) {
	sim := New()
	events, err := sim.Run(20)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if sim.Finished() != 20 {
		t.Fatalf("Finished() = %d; want 20", sim.Finished())
	}
	if len(events) == 0 {
		t.Fatal("expected at least one quadrant-entry event")
	}
}

func TestPathLengthsMatchTurnKind(t *testing.T) {
	cases := []struct {
		turn Turn
		want int
	}{
		{Right, 1},
		{Straight, 2},
		{Left, 3},
	}
	for _, c := range cases {
		got := path(North, c.turn)
		if len(got) != c.want {
			t.Errorf("path(North, %v) has %d quadrants; want %d", c.turn, len(got), c.want)
		}
	}
}

func TestPathStaysWithinFourQuadrants(t *testing.T) {
	for origin := Direction(0); origin < 4; origin++ {
		for turn := Turn(0); turn < 3; turn++ {
			for _, q := range path(origin, turn) {
				if q < nw || q >= numQuadrants {
					t.Fatalf("path(%v, %v) produced out-of-range quadrant %d", origin, turn, q)
				}
			}
		}
	}
}

func TestRunRepeatedlyNeverDoubleOccupies(t *testing.T) {
	// The semaphore-guarded critical section in drive is the real
	// enforcement; repeated runs under -race would catch a regression
	// that let two cars hold the same quadrant concurrently.
	for i := 0; i < 10; i++ {
		sim := New()
		if _, err := sim.Run(12); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}
