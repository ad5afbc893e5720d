package maintenance

import (
	"testing"
	"time"
)

type fakeStore struct {
	cutoff time.Time
	swept  int64
	err    error
}

func (f *fakeStore) FailStaleRuns(cutoff, completedAt time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.swept, f.err
}

func TestNewSweeper_Validation(t *testing.T) {
	if _, err := NewSweeper(&fakeStore{}, 0, "* * * * *"); err == nil {
		t.Error("zero threshold should be rejected")
	}
	if _, err := NewSweeper(&fakeStore{}, time.Hour, "not a cron"); err == nil {
		t.Error("bad cron expression should be rejected")
	}
}

func TestSweepOnce_CutoffFromThreshold(t *testing.T) {
	store := &fakeStore{swept: 3}
	s, err := NewSweeper(store, 2*time.Hour, "*/5 * * * *")
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	swept, err := s.SweepOnce(now)
	if err != nil {
		t.Fatal(err)
	}
	if swept != 3 {
		t.Errorf("swept = %d, want 3", swept)
	}
	want := now.Add(-2 * time.Hour)
	if !store.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", store.cutoff, want)
	}
}
