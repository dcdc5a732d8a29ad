package pool

import (
	"testing"
	"time"

	"github.com/quizduel/arena/internal/match"
)

func entry(id int64, rating float64, joined time.Time) *Entry {
	return &Entry{
		User:     match.User{ID: id, Rating: rating},
		JoinedAt: joined,
	}
}

func ratings(entries []*Entry) []float64 {
	out := make([]float64, len(entries))
	for i, e := range entries {
		out[i] = e.User.Rating
	}
	return out
}

func TestInsert_KeepsOrder(t *testing.T) {
	p := New()
	base := time.Now()

	p.Insert(entry(1, 1500, base))
	p.Insert(entry(2, 1000, base))
	p.Insert(entry(3, 1200, base))
	p.Insert(entry(4, 1200, base.Add(-time.Minute))) // earlier join, same rating

	got := p.Snapshot()
	want := []float64{1000, 1200, 1200, 1500}
	for i, r := range ratings(got) {
		if r != want[i] {
			t.Fatalf("order broken: %v", ratings(got))
		}
	}
	// Tie broken by joined_at: the earlier joiner comes first.
	if got[1].User.ID != 4 || got[2].User.ID != 3 {
		t.Errorf("joined_at tiebreak broken: %d, %d", got[1].User.ID, got[2].User.ID)
	}
}

func TestInsert_RejectsDuplicate(t *testing.T) {
	p := New()
	now := time.Now()

	if !p.Insert(entry(1, 1000, now)) {
		t.Fatal("first insert should succeed")
	}
	if p.Insert(entry(1, 1100, now)) {
		t.Error("duplicate user id must be rejected")
	}
	if p.Len() != 1 {
		t.Errorf("pool should hold one entry, has %d", p.Len())
	}
}

func TestRemove(t *testing.T) {
	p := New()
	now := time.Now()
	p.Insert(entry(1, 1000, now))
	p.Insert(entry(2, 1100, now))

	if e := p.Remove(1); e == nil || e.User.ID != 1 {
		t.Fatal("remove should return the entry")
	}
	if p.Remove(1) != nil {
		t.Error("second remove should return nil")
	}
	if p.Len() != 1 || p.Get(2) == nil {
		t.Error("other entry should survive")
	}
}

func TestScan_CloseRatingsPairAfterShortWait(t *testing.T) {
	// Ratings 1000 and 1050: gap 50 < 50*wait once wait >= 2s (strict <).
	p := New()
	now := time.Now()
	p.Insert(entry(1, 1000, now.Add(-2*time.Second)))
	p.Insert(entry(2, 1050, now.Add(-2*time.Second)))

	pairs := p.Scan(now, 50)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if pairs[0].A.User.ID != 1 || pairs[0].B.User.ID != 2 {
		t.Errorf("wrong pairing: %d vs %d", pairs[0].A.User.ID, pairs[0].B.User.ID)
	}
	if p.Len() != 0 {
		t.Errorf("paired entries must leave the pool, %d remain", p.Len())
	}
}

func TestScan_NoFloor_SimultaneousJoinersWait(t *testing.T) {
	p := New()
	now := time.Now()
	p.Insert(entry(1, 1000, now))
	p.Insert(entry(2, 1000.5, now))

	if pairs := p.Scan(now, 50); len(pairs) != 0 {
		t.Errorf("zero wait means zero tolerance; got %d pairs", len(pairs))
	}
	if p.Len() != 2 {
		t.Errorf("unpaired entries must remain, have %d", p.Len())
	}
}

func TestScan_ToleranceGrowth(t *testing.T) {
	// A (1000) has waited, B (1400) joined 3s ago. Gap 400.
	now := time.Now()

	for _, c := range []struct {
		aWait time.Duration
		pairs int
	}{
		{5 * time.Second, 0}, // 400 < 250? no
		{8 * time.Second, 0}, // 400 < 400? no (strict)
		{9 * time.Second, 1}, // 400 < 450? yes
	} {
		p := New()
		p.Insert(entry(1, 1000, now.Add(-c.aWait)))
		p.Insert(entry(2, 1400, now.Add(-3*time.Second)))
		if got := len(p.Scan(now, 50)); got != c.pairs {
			t.Errorf("wait=%v: expected %d pairs, got %d", c.aWait, c.pairs, got)
		}
	}
}

func TestScan_WaitIsLongerOfTheTwo(t *testing.T) {
	// Tolerance uses now-min(joined_at): the longer wait of the pair.
	p := New()
	now := time.Now()
	p.Insert(entry(1, 1000, now.Add(-9*time.Second))) // long wait
	p.Insert(entry(2, 1400, now))                     // just joined

	if pairs := p.Scan(now, 50); len(pairs) != 1 {
		t.Errorf("the longer wait should drive the tolerance, got %d pairs", len(pairs))
	}
}

func TestScan_UnpairedKeepPosition(t *testing.T) {
	p := New()
	now := time.Now()
	// 1000 and 1050 pair; 2000 is stranded as the trailing entry.
	p.Insert(entry(1, 1000, now.Add(-5*time.Second)))
	p.Insert(entry(2, 1050, now.Add(-5*time.Second)))
	p.Insert(entry(3, 2000, now.Add(-5*time.Second)))

	pairs := p.Scan(now, 50)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	rest := p.Snapshot()
	if len(rest) != 1 || rest[0].User.ID != 3 {
		t.Errorf("trailing entry should remain queued: %v", ratings(rest))
	}
	if p.Get(3) == nil {
		t.Error("index must still know the remaining entry")
	}
}

func TestScan_SkipsBothOnPair(t *testing.T) {
	// Four close entries pair adjacently: (1,2) and (3,4).
	p := New()
	now := time.Now()
	for i, r := range []float64{1000, 1010, 1020, 1030} {
		p.Insert(entry(int64(i+1), r, now.Add(-10*time.Second)))
	}
	pairs := p.Scan(now, 50)
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if pairs[0].A.User.ID != 1 || pairs[0].B.User.ID != 2 ||
		pairs[1].A.User.ID != 3 || pairs[1].B.User.ID != 4 {
		t.Errorf("adjacent pairing broken: %+v", pairs)
	}
}

func TestScan_PairingMonotonicity(t *testing.T) {
	// Widening either wait (ratings fixed) never unpairs a pair.
	now := time.Now()
	gapPaired := func(wait time.Duration) bool {
		p := New()
		p.Insert(entry(1, 1000, now.Add(-wait)))
		p.Insert(entry(2, 1300, now.Add(-wait)))
		return len(p.Scan(now, 50)) == 1
	}

	paired := false
	for wait := time.Second; wait <= 20*time.Second; wait += time.Second {
		ok := gapPaired(wait)
		if paired && !ok {
			t.Fatalf("pairing regressed at wait=%v", wait)
		}
		paired = ok
	}
	if !paired {
		t.Error("gap 300 should pair within 20s at slope 50")
	}
}
