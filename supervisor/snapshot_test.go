package supervisor

import (
	"testing"

	"github.com/go-test/deep"

	"github.com/m-lab/ncps/engine"
)

func TestSnapshotCacheUpdateReturnsPreviousReading(t *testing.T) {
	c := NewSnapshotCache()

	first := engine.Snapshot{Open: 3, Closed: 1}
	prev := c.Update(0, first)
	if diff := deep.Equal(prev, engine.Snapshot{}); diff != nil {
		t.Errorf("first Update() previous = %+v, want zero value: %v", prev, diff)
	}
	c.EndCycle()

	second := engine.Snapshot{Open: 5, Closed: 4}
	prev = c.Update(0, second)
	if diff := deep.Equal(prev, first); diff != nil {
		t.Errorf("second Update() previous = %+v, want %+v: %v", prev, first, diff)
	}
}

func TestSnapshotCacheCycleCount(t *testing.T) {
	c := NewSnapshotCache()
	if c.CycleCount() != 0 {
		t.Fatalf("CycleCount() = %d, want 0", c.CycleCount())
	}
	c.Update(0, engine.Snapshot{})
	c.EndCycle()
	c.Update(0, engine.Snapshot{})
	c.EndCycle()
	if c.CycleCount() != 2 {
		t.Fatalf("CycleCount() = %d, want 2", c.CycleCount())
	}
}

func TestTotalSumsAcrossWorkers(t *testing.T) {
	snaps := map[int]engine.Snapshot{
		0: {Open: 1, Closed: 2, RXBytes: 10, PortWrapped: true},
		1: {Open: 3, Closed: 4, RXBytes: 20},
	}
	got := Total(snaps)
	want := engine.Snapshot{Open: 4, Closed: 6, RXBytes: 30, PortWrapped: true}
	if diff := deep.Equal(got, want); diff != nil {
		t.Errorf("Total() = %+v, want %+v: %v", got, want, diff)
	}
}
