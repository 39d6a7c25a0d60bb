// Package catmouse is the classic cats-and-mice bowl-sharing drill,
// ported from kern/asst1/catlock.c's catlock/mouselock onto goroutines
// and internal/synch's Lock/CV, run as an external collaborator
// alongside the VM core per spec.md §1's framing (it exercises
// internal/synch, which the VM core itself does not use, and has
// nothing to do with paging).
package catmouse

import (
	"math/rand"
	"sync"

	"github.com/smukherj1/os161/internal/synch"
)

// Config mirrors catlock.c's NFOODBOWLS/NCATS/NMICE compile-time
// constants, made runtime-configurable.
type Config struct {
	Bowls      int
	Cats       int
	Mice       int
	Iterations int
}

// species distinguishes which animal currently holds the shared eating
// area, the role cats_currently_eating's sign played in the original
// (the mirrored mouselock used an analogous counter for mice).
type species int

const (
	none species = iota
	catsEating
	miceEating
)

// Sim runs one instance of the drill: each bowl is mutually exclusive
// (one eater per bowl at a time, guarded by its own synch.Lock, like
// catlock.c's bowl_lock array) and cats and mice never eat
// concurrently, though any number of a single species may eat at once
// across the available bowls, mirroring cat_mouse_lock's turn-taking.
type Sim struct {
	cfg Config

	turn   *synch.Lock
	cv     *synch.CV
	eating species
	active int // animals of `eating` species currently in the turn

	bowls []*synch.Lock

	finished *synch.Lock
	numDone  int

	eventsMu sync.Mutex
	events   []Event
}

// Event records one eating episode, returned to callers (and tests)
// that want to verify the mutual-exclusion invariant held.
type Event struct {
	Who       string
	Num       int
	Bowl      int
	Iteration int
}

// New creates a simulation ready to Run.
func New(cfg Config) *Sim {
	s := &Sim{
		cfg:      cfg,
		turn:     synch.NewLock("cat-mouse-turn"),
		finished: synch.NewLock("cat-mouse-finished"),
	}
	s.cv = synch.NewCV("cat-mouse-cv")
	s.bowls = make([]*synch.Lock, cfg.Bowls)
	for i := range s.bowls {
		s.bowls[i] = synch.NewLock("bowl")
	}
	return s
}

// Run starts cfg.Cats cat goroutines and cfg.Mice mouse goroutines,
// each eating cfg.Iterations times, and blocks until all have
// finished, returning every eating episode in the order it occurred.
func (s *Sim) Run() []Event {
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Cats; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.animal("cat", n, catsEating)
		}(i)
	}
	for i := 0; i < s.cfg.Mice; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.animal("mouse", n, miceEating)
		}(i)
	}
	wg.Wait()

	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	return s.events
}

func (s *Sim) animal(who string, num int, kind species) {
	owner := &struct{}{}
	for iter := 0; iter < s.cfg.Iterations; iter++ {
		s.acquireTurn(kind, owner)
		s.eatAtRandomBowl(who, num, iter, owner)
		s.releaseTurn(owner)
	}
	s.finished.Acquire(owner)
	s.numDone++
	s.finished.Release(owner)
}

// acquireTurn blocks until the shared area is free or already hosting
// this animal's own species, mirroring catlock.c's busy-retry loop
// but expressed as a condition-variable wait instead of a
// release-and-spin.
func (s *Sim) acquireTurn(kind species, owner interface{}) {
	s.turn.Acquire(owner)
	for s.eating != none && s.eating != kind {
		s.cv.Wait(s.turn, owner)
	}
	s.eating = kind
	s.active++
	s.turn.Release(owner)
}

func (s *Sim) releaseTurn(owner interface{}) {
	s.turn.Acquire(owner)
	s.active--
	wake := s.active == 0
	if wake {
		s.eating = none
	}
	s.turn.Release(owner)
	if wake {
		s.cv.Broadcast()
	}
}

func (s *Sim) eatAtRandomBowl(who string, num, iteration int, owner interface{}) {
	bowl := rand.Intn(s.cfg.Bowls)
	s.bowls[bowl].Acquire(owner)
	defer s.bowls[bowl].Release(owner)

	s.eventsMu.Lock()
	s.events = append(s.events, Event{Who: who, Num: num, Bowl: bowl, Iteration: iteration})
	s.eventsMu.Unlock()
}

// Finished reports how many animals have completed every iteration.
func (s *Sim) Finished() int {
	owner := &struct{}{}
	s.finished.Acquire(owner)
	defer s.finished.Release(owner)
	return s.numDone
}
