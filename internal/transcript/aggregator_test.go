package transcript_test

import (
	"sync"
	"testing"

	"github.com/marcomolinaleija/GIC/internal/transcript"
)

func TestCompleteTurn_JoinsFragments(t *testing.T) {
	t.Parallel()
	var a transcript.Aggregator

	a.AppendUser("Hola")
	a.AppendUser(" mundo")
	a.AppendModel("¡Hola")
	a.AppendModel("!")

	turn, ok := a.CompleteTurn()
	if !ok {
		t.Fatal("CompleteTurn reported no turn")
	}
	want := transcript.Turn{User: "Hola mundo", Model: "¡Hola!"}
	if turn != want {
		t.Errorf("turn = %+v; want %+v", turn, want)
	}

	snap := a.Snapshot()
	if len(snap.Turns) != 1 || snap.Turns[0] != want {
		t.Errorf("history = %+v; want [%+v]", snap.Turns, want)
	}
	if snap.User != "" || snap.Model != "" {
		t.Errorf("accumulators not reset: user=%q model=%q", snap.User, snap.Model)
	}
}

func TestCompleteTurn_TrimsWhitespace(t *testing.T) {
	t.Parallel()
	var a transcript.Aggregator

	a.AppendUser("  dibuja un gato ")
	a.AppendModel("\n")

	turn, ok := a.CompleteTurn()
	if !ok {
		t.Fatal("CompleteTurn reported no turn")
	}
	if turn.User != "dibuja un gato" || turn.Model != "" {
		t.Errorf("turn = %+v", turn)
	}
}

func TestCompleteTurn_EmptyIsSkipped(t *testing.T) {
	t.Parallel()
	var a transcript.Aggregator

	a.AppendUser("   ")
	if _, ok := a.CompleteTurn(); ok {
		t.Error("whitespace-only turn should not be finalised")
	}
	if _, ok := a.CompleteTurn(); ok {
		t.Error("empty turn should not be finalised")
	}
	if n := len(a.Snapshot().Turns); n != 0 {
		t.Errorf("history length = %d; want 0", n)
	}
	if a.Pending() {
		t.Error("accumulators should be empty after CompleteTurn")
	}
}

func TestCompleteTurn_PreservesOrder(t *testing.T) {
	t.Parallel()
	var a transcript.Aggregator

	for _, text := range []string{"uno", "dos", "tres"} {
		a.AppendUser(text)
		a.CompleteTurn()
	}

	turns := a.Snapshot().Turns
	want := []string{"uno", "dos", "tres"}
	if len(turns) != len(want) {
		t.Fatalf("history length = %d; want %d", len(turns), len(want))
	}
	for i := range want {
		if turns[i].User != want[i] {
			t.Errorf("turn %d user = %q; want %q", i, turns[i].User, want[i])
		}
	}
}

func TestSnapshot_IncludesPartials(t *testing.T) {
	t.Parallel()
	var a transcript.Aggregator

	a.AppendUser("Hola")
	a.AppendModel("Buenas")

	snap := a.Snapshot()
	if snap.User != "Hola" || snap.Model != "Buenas" {
		t.Errorf("partials = %q / %q", snap.User, snap.Model)
	}
	if !a.Pending() {
		t.Error("Pending should be true with partial text")
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	t.Parallel()
	var a transcript.Aggregator

	a.AppendUser("primero")
	a.CompleteTurn()
	snap := a.Snapshot()
	snap.Turns[0].User = "mutado"

	if got := a.Snapshot().Turns[0].User; got != "primero" {
		t.Errorf("history mutated through snapshot: %q", got)
	}
}

func TestReset_KeepsHistory(t *testing.T) {
	t.Parallel()
	var a transcript.Aggregator

	a.AppendUser("hola")
	a.CompleteTurn()
	a.AppendModel("a medias")
	a.Reset()

	snap := a.Snapshot()
	if len(snap.Turns) != 1 {
		t.Errorf("history length = %d; want 1", len(snap.Turns))
	}
	if snap.Model != "" {
		t.Errorf("partial model text survived Reset: %q", snap.Model)
	}
}

func TestAggregator_ConcurrentAppends(t *testing.T) {
	t.Parallel()
	var a transcript.Aggregator

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 100 {
				a.AppendUser("a")
				a.AppendModel("b")
			}
		})
	}
	wg.Wait()

	turn, _ := a.CompleteTurn()
	if len(turn.User) != 800 || len(turn.Model) != 800 {
		t.Errorf("lengths = %d/%d; want 800/800", len(turn.User), len(turn.Model))
	}
}
