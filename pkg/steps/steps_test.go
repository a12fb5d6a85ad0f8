package steps

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ormasoftchile/stepscript/pkg/script"
)

func makeSteps(n int) []script.Step {
	out := make([]script.Step, n)
	for i := range out {
		out[i] = script.Step{
			ID:             fmt.Sprintf("s%d", i+1),
			Order:          i + 1,
			Description:    fmt.Sprintf("step %d", i+1),
			ExpectedResult: "ok",
			ActionIDs:      []string{fmt.Sprintf("a%d", i+1)},
		}
	}
	return out
}

func orders(steps []script.Step) []int {
	out := make([]int, len(steps))
	for i, st := range steps {
		out[i] = st.Order
	}
	return out
}

func TestReorder(t *testing.T) {
	tests := []struct {
		id    string
		order int
		want  []string
	}{
		{"s1", 3, []string{"s2", "s3", "s1", "s4"}},
		{"s4", 1, []string{"s4", "s1", "s2", "s3"}},
		{"s2", 2, []string{"s1", "s2", "s3", "s4"}},
		{"s3", 4, []string{"s1", "s2", "s4", "s3"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%d", tt.id, tt.order), func(t *testing.T) {
			got, err := Reorder(makeSteps(4), tt.id, tt.order)
			if err != nil {
				t.Fatalf("Reorder: %v", err)
			}
			if diff := cmp.Diff(tt.want, ExecutionSequence(got)); diff != "" {
				t.Errorf("sequence mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]int{1, 2, 3, 4}, orders(got)); diff != "" {
				t.Errorf("orders not dense (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReorderPreservesFields(t *testing.T) {
	in := makeSteps(3)
	in[1].ContinueOnFailure = true
	got, err := Reorder(in, "s2", 3)
	if err != nil {
		t.Fatal(err)
	}
	moved, ok := Find(got, "s2")
	if !ok {
		t.Fatal("moved step missing")
	}
	want := in[1]
	want.Order = 3
	if diff := cmp.Diff(want, moved); diff != "" {
		t.Errorf("moved step changed (-want +got):\n%s", diff)
	}
}

func TestReorderFailsWithoutMutation(t *testing.T) {
	in := makeSteps(3)
	before := script.CloneSteps(in)

	if _, err := Reorder(in, "nope", 1); !errors.Is(err, ErrStepNotFound) {
		t.Errorf("err = %v, want ErrStepNotFound", err)
	}
	for _, p := range []int{0, 4, -1} {
		if _, err := Reorder(in, "s1", p); !errors.Is(err, ErrOrderOutOfRange) {
			t.Errorf("order %d: err = %v, want ErrOrderOutOfRange", p, err)
		}
	}
	if _, err := Reorder(in, "s2", 1); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, in); diff != "" {
		t.Errorf("input mutated (-before +after):\n%s", diff)
	}
}

// TestReorderProperties checks density, membership, placement and
// reversibility over random collections and moves.
func TestReorderProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(8)
		in := makeSteps(n)
		rng.Shuffle(n, func(i, j int) { in[i], in[j] = in[j], in[i] })

		target := in[rng.Intn(n)]
		p := 1 + rng.Intn(n)
		got, err := Reorder(in, target.ID, p)
		if err != nil {
			t.Fatalf("iter %d: %v", iter, err)
		}

		seq := ExecutionSequence(got)
		if seq[p-1] != target.ID {
			t.Fatalf("iter %d: %s at %d, want index %d", iter, target.ID, indexOfString(seq, target.ID), p-1)
		}
		seen := map[string]bool{}
		for i, st := range Sorted(got) {
			if st.Order != i+1 {
				t.Fatalf("iter %d: order %d at index %d", iter, st.Order, i)
			}
			seen[st.ID] = true
		}
		if len(seen) != n {
			t.Fatalf("iter %d: %d distinct ids, want %d", iter, len(seen), n)
		}

		back, err := Reorder(got, target.ID, target.Order)
		if err != nil {
			t.Fatalf("iter %d undo: %v", iter, err)
		}
		if diff := cmp.Diff(ExecutionSequence(in), ExecutionSequence(back)); diff != "" {
			t.Fatalf("iter %d: undo mismatch (-want +got):\n%s", iter, diff)
		}
	}
}

func indexOfString(list []string, s string) int {
	for i, e := range list {
		if e == s {
			return i
		}
	}
	return -1
}

func TestInsertAndRemove(t *testing.T) {
	in := makeSteps(2)
	got, err := Insert(in, script.Step{ID: "new", Description: "inserted"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"new", "s1", "s2"}, ExecutionSequence(got)); diff != "" {
		t.Errorf("insert sequence (-want +got):\n%s", diff)
	}
	if st, _ := Find(got, "new"); st.ActionIDs == nil {
		t.Error("inserted step has nil action ids")
	}
	if _, err := Insert(got, script.Step{ID: "s1"}, 1); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("err = %v, want ErrDuplicateID", err)
	}
	appended, _ := Insert(in, script.Step{ID: "tail"}, 99)
	if seq := ExecutionSequence(appended); seq[len(seq)-1] != "tail" {
		t.Errorf("clamped insert sequence = %v", seq)
	}

	got, err = Remove(got, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, 2}, orders(got)); diff != "" {
		t.Errorf("orders after remove (-want +got):\n%s", diff)
	}
	if _, err := Remove(got, "s1"); !errors.Is(err, ErrStepNotFound) {
		t.Errorf("err = %v, want ErrStepNotFound", err)
	}
}

func pool(actions ...script.Action) script.ActionPool {
	p := script.ActionPool{}
	for _, a := range actions {
		p[a.ID] = a
	}
	return p
}

func act(id string, ts float64) script.Action {
	return script.Action{ID: id, Timestamp: ts, Payload: script.Wait{}}
}

func ids(actions []script.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.ID
	}
	return out
}

func TestFilterForStep(t *testing.T) {
	p := pool(act("a", 30), act("b", 10), act("c", 20), act("d", 10), act("unused", 0))
	step := &script.Step{ID: "s", ActionIDs: []string{"a", "missing", "b", "a", "c", "d"}}

	got := FilterForStep(step, p)
	if diff := cmp.Diff([]string{"b", "d", "c", "a"}, ids(got)); diff != "" {
		t.Errorf("FilterForStep (-want +got):\n%s", diff)
	}
	if got := FilterForStep(nil, p); got == nil || len(got) != 0 {
		t.Errorf("nil step = %v, want empty", got)
	}
	if got := FilterForStep(&script.Step{}, nil); len(got) != 0 {
		t.Errorf("empty step = %v", got)
	}
}

// TestFilterForStepProperties checks that the result is exactly the
// resolvable referenced ids, once each, in timestamp order.
func TestFilterForStepProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for iter := 0; iter < 100; iter++ {
		p := script.ActionPool{}
		for i := 0; i < rng.Intn(10); i++ {
			a := act(fmt.Sprintf("a%d", i), float64(rng.Intn(5)))
			p[a.ID] = a
		}
		var refs []string
		for i := 0; i < rng.Intn(15); i++ {
			refs = append(refs, fmt.Sprintf("a%d", rng.Intn(12)))
		}
		step := &script.Step{ID: "s", ActionIDs: refs}
		got := FilterForStep(step, p)

		want := map[string]bool{}
		for _, id := range refs {
			if _, ok := p[id]; ok {
				want[id] = true
			}
		}
		if len(got) != len(want) {
			t.Fatalf("iter %d: got %d actions, want %d", iter, len(got), len(want))
		}
		for i, a := range got {
			if !want[a.ID] {
				t.Fatalf("iter %d: unexpected %s", iter, a.ID)
			}
			if i > 0 && got[i-1].Timestamp > a.Timestamp {
				t.Fatalf("iter %d: not sorted at %d", iter, i)
			}
		}
	}
}

func TestOrphanedAndBelongs(t *testing.T) {
	p := pool(act("a", 5), act("b", 1), act("c", 3))
	steps := []script.Step{{ID: "s1", ActionIDs: []string{"a"}}}

	if diff := cmp.Diff([]string{"b", "c"}, ids(Orphaned(p, steps))); diff != "" {
		t.Errorf("Orphaned (-want +got):\n%s", diff)
	}
	if !Belongs(p["a"], steps[0]) || Belongs(p["b"], steps[0]) {
		t.Error("Belongs membership wrong")
	}
	if len(Orphaned(script.ActionPool{}, steps)) != 0 {
		t.Error("empty pool should have no orphans")
	}
}

func TestFlatten(t *testing.T) {
	p := pool(act("a", 1), act("b", 2), act("c", 3))
	steps := []script.Step{
		{ID: "s2", Order: 2, ActionIDs: []string{"a", "a"}},
		{ID: "s1", Order: 1, ActionIDs: []string{"c", "ghost", "b"}},
	}
	if diff := cmp.Diff([]string{"c", "b", "a", "a"}, ids(Flatten(steps, p))); diff != "" {
		t.Errorf("Flatten (-want +got):\n%s", diff)
	}
}
