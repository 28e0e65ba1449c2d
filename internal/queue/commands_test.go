package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"emobridge/internal/types"
)

func TestDrainAll_EmptyQueueReturnsEmptySlice(t *testing.T) {
	q := NewCommandQueue()

	got := q.DrainAll()
	if got == nil {
		t.Fatal("DrainAll() returned nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
	body, _ := json.Marshal(got)
	if string(body) != "[]" {
		t.Errorf("json = %s, want []", body)
	}
}

func TestDrainAll_FIFOAndClears(t *testing.T) {
	q := NewCommandQueue()
	q.Enqueue(types.NewSpeakCommand("a"))
	q.Enqueue(types.NewSpeakCommand("b"))
	q.EnqueueAll(types.NewSpeakCommand("c"), types.NewSpeakCommand("d"))

	if q.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", q.Len())
	}

	got := q.DrainAll()
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("drained %d commands, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i]["text"] != w {
			t.Errorf("drained[%d] text = %v, want %s", i, got[i]["text"], w)
		}
	}

	if again := q.DrainAll(); len(again) != 0 {
		t.Errorf("second drain returned %d commands, want 0", len(again))
	}
	if q.Len() != 0 {
		t.Errorf("Len() after drain = %d", q.Len())
	}
}

func TestEnqueueAll_NoArgsIsNoop(t *testing.T) {
	q := NewCommandQueue()
	q.EnqueueAll()
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

// TestConcurrentEnqueueDrain checks that every enqueued command is delivered
// exactly once across concurrent drains.
func TestConcurrentEnqueueDrain(t *testing.T) {
	const producers = 8
	const perProducer = 250

	q := NewCommandQueue()

	var (
		mu      sync.Mutex
		drained []types.Command
		wg      sync.WaitGroup
		done    = make(chan struct{})
	)

	drainer := func() {
		for {
			batch := q.DrainAll()
			mu.Lock()
			drained = append(drained, batch...)
			mu.Unlock()
			select {
			case <-done:
				return
			default:
			}
		}
	}

	var drainers sync.WaitGroup
	for i := 0; i < 2; i++ {
		drainers.Add(1)
		go func() {
			defer drainers.Done()
			drainer()
		}()
	}

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(types.NewSpeakCommand(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()
	close(done)
	drainers.Wait()
	drained = append(drained, q.DrainAll()...)

	if len(drained) != producers*perProducer {
		t.Fatalf("drained %d commands, want %d", len(drained), producers*perProducer)
	}
	seen := make(map[string]bool, len(drained))
	for _, cmd := range drained {
		text := cmd["text"].(string)
		if seen[text] {
			t.Fatalf("command %s delivered twice", text)
		}
		seen[text] = true
	}
}

// TestEnqueueAll_BatchIsNeverSplit checks a drain sees all of a batch or none.
func TestEnqueueAll_BatchIsNeverSplit(t *testing.T) {
	const batches = 200
	q := NewCommandQueue()

	batch := func(n int) []types.Command {
		return []types.Command{
			types.NewCommand(types.CommandSpeak, map[string]any{"batch": n, "step": 0}),
			types.NewCommand(types.CommandAction, map[string]any{"batch": n, "step": 1}),
			types.NewCommand(types.CommandSpeak, map[string]any{"batch": n, "step": 2}),
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < batches; i++ {
			q.EnqueueAll(batch(i)...)
		}
	}()

	var all []types.Command
	for len(all) < batches*3 {
		got := q.DrainAll()
		if len(got)%3 != 0 {
			t.Fatalf("drain returned %d commands, not a whole number of batches", len(got))
		}
		all = append(all, got...)
	}
	wg.Wait()

	for i, cmd := range all {
		if cmd["step"] != i%3 {
			t.Fatalf("command %d has step %v, want %d", i, cmd["step"], i%3)
		}
	}
}
