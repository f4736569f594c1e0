package livefeed

import (
	"sync"
	"testing"
)

func TestDeduperAdmitOnce(t *testing.T) {
	d := NewDeduper()

	if !d.Admit(7) {
		t.Fatal("first Admit should return true")
	}
	for i := 0; i < 5; i++ {
		if d.Admit(7) {
			t.Fatal("repeated Admit should return false")
		}
	}
	if !d.Seen(7) {
		t.Error("Seen should report admitted id")
	}
	if d.Seen(8) {
		t.Error("Seen should not report unknown id")
	}
}

func TestDeduperNoEviction(t *testing.T) {
	d := NewDeduper()
	d.Admit(1)

	// Even after an order leaves the live set, its id stays admitted for
	// the process lifetime.
	if d.Admit(1) {
		t.Fatal("id must never be re-admitted")
	}
}

func TestDeduperReset(t *testing.T) {
	d := NewDeduper()
	d.Admit(1)
	d.Admit(2)

	d.Reset([]int64{10, 11})

	if d.Admit(10) || d.Admit(11) {
		t.Error("seeded ids should not be admitted again")
	}
	if !d.Admit(1) {
		t.Error("reset should discard previously tracked ids")
	}
}

func TestDeduperConcurrentAdmit(t *testing.T) {
	d := NewDeduper()

	const callers = 16
	admitted := make(chan bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- d.Admit(42)
		}()
	}
	wg.Wait()
	close(admitted)

	wins := 0
	for ok := range admitted {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one caller should win admission, got %d", wins)
	}
}
