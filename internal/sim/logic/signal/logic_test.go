package signal

import "testing"

type wires map[Pos]bool

func (w wires) Conductor(p Pos) bool { return w[p] }

func line(from, to int) wires {
	w := wires{}
	for x := from; x <= to; x++ {
		w[Pos{X: x}] = true
	}
	return w
}

func TestPropagate_DecaysOnePerHop(t *testing.T) {
	env := line(1, 20)
	got := Propagate(env, []Seed{{Pos: Pos{X: 0}, Power: 15}})
	for x := 1; x <= 14; x++ {
		if want := 15 - x; got[Pos{X: x}] != want {
			t.Fatalf("x=%d power=%d want %d", x, got[Pos{X: x}], want)
		}
	}
	if _, ok := got[Pos{X: 15}]; ok {
		t.Fatalf("power must not reach past 14 hops")
	}
}

func TestPropagate_NearestSeedWins(t *testing.T) {
	env := line(1, 9)
	got := Propagate(env, []Seed{
		{Pos: Pos{X: 0}, Power: 15},
		{Pos: Pos{X: 10}, Power: 15},
	})
	for x := 1; x <= 9; x++ {
		d := x
		if 10-x < d {
			d = 10 - x
		}
		if want := 15 - d; got[Pos{X: x}] != want {
			t.Fatalf("x=%d power=%d want %d", x, got[Pos{X: x}], want)
		}
	}
}

func TestPropagate_WeakSeedQueuedFirstIsImproved(t *testing.T) {
	env := line(1, 3)
	got := Propagate(env, []Seed{
		{Pos: Pos{X: 4}, Power: 2},
		{Pos: Pos{X: 0}, Power: 15},
	})
	if got[Pos{X: 3}] != 12 {
		t.Fatalf("x=3 power=%d want 12", got[Pos{X: 3}])
	}
	if got[Pos{X: 4}] != 2 {
		t.Fatalf("seed power must be kept, got %d", got[Pos{X: 4}])
	}
}

func TestPropagate_DoesNotCrossNonConductors(t *testing.T) {
	env := wires{{X: 1}: true, {X: 3}: true}
	got := Propagate(env, []Seed{{Pos: Pos{X: 0}, Power: 15}})
	if got[Pos{X: 1}] != 14 {
		t.Fatalf("adjacent conductor power=%d", got[Pos{X: 1}])
	}
	if _, ok := got[Pos{X: 3}]; ok {
		t.Fatalf("gap must stop propagation")
	}
}

func TestPropagate_IgnoresDeadSeeds(t *testing.T) {
	env := line(1, 2)
	got := Propagate(env, []Seed{{Pos: Pos{X: 0}, Power: 0}})
	if len(got) != 0 {
		t.Fatalf("expected nothing, got %v", got)
	}
}
