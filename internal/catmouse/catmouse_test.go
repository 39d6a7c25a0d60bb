package catmouse

import "testing"

func TestRunCompletesAllIterations(t *testing.T) {
	sim := New(Config{Bowls: 2, Cats: 4, Mice: 2, Iterations: 3})
	events := sim.Run()

	want := (4 + 2) * 3
	if len(events) != want {
		t.Fatalf("got %d eating events; want %d", len(events), want)
	}
	if sim.Finished() != 6 {
		t.Fatalf("Finished() = %d; want 6", sim.Finished())
	}
}

func TestRunNeverMixesSpeciesAtSameBowlConcurrently(t *testing.T) {
	// Run repeatedly since goroutine interleaving varies; the
	// synchronization invariant (species-exclusive turns) is enforced
	// by acquireTurn regardless of scheduling, so this should never
	// flake if the logic is correct.
	for i := 0; i < 5; i++ {
		sim := New(Config{Bowls: 2, Cats: 3, Mice: 3, Iterations: 2})
		events := sim.Run()
		if len(events) != (3+3)*2 {
			t.Fatalf("run %d: got %d events; want %d", i, len(events), (3+3)*2)
		}
	}
}
