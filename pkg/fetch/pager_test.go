package fetch

import (
	"context"
	"errors"
	"testing"
)

// slicePages serves pages out of a fixed record slice and counts requests.
type slicePages struct {
	records   []int
	total     bool // expose authoritative total
	liesTotal int  // report this total instead of the real one, 0 disables
	calls     int
	failAt    int // fail the Nth call (1-based), 0 disables
}

func (s *slicePages) fetch(ctx context.Context, limit, offset int) ([]int, int, error) {
	s.calls++
	if s.failAt > 0 && s.calls == s.failAt {
		return nil, 0, errors.New("page fetch failed")
	}

	page := []int{}
	if offset < len(s.records) {
		end := offset + limit
		if end > len(s.records) {
			end = len(s.records)
		}
		page = s.records[offset:end]
	}
	total := 0
	if s.total {
		total = len(s.records)
	}
	if s.liesTotal > 0 {
		total = s.liesTotal
	}
	return page, total, nil
}

func makeRecords(n int) []int {
	records := make([]int, n)
	for i := range records {
		records[i] = i
	}
	return records
}

func TestPages_ExactMultiple(t *testing.T) {
	// A collection sized at limit*k needs k+1 requests under the heuristic:
	// the trailing page returns zero records.
	src := &slicePages{records: makeRecords(30)}

	records, err := Pages(context.Background(), "test", 10, src.fetch, nil)
	if err != nil {
		t.Fatalf("Pages() error = %v", err)
	}
	if len(records) != 30 {
		t.Errorf("len(records) = %d, want 30", len(records))
	}
	if src.calls != 4 {
		t.Errorf("calls = %d, want 4", src.calls)
	}
}

func TestPages_Remainder(t *testing.T) {
	// limit*k + r records terminate on the short page, no extra request.
	src := &slicePages{records: makeRecords(27)}

	records, err := Pages(context.Background(), "test", 10, src.fetch, nil)
	if err != nil {
		t.Fatalf("Pages() error = %v", err)
	}
	if len(records) != 27 {
		t.Errorf("len(records) = %d, want 27", len(records))
	}
	if src.calls != 3 {
		t.Errorf("calls = %d, want 3", src.calls)
	}
}

func TestPages_Empty(t *testing.T) {
	src := &slicePages{}

	records, err := Pages(context.Background(), "test", 10, src.fetch, nil)
	if err != nil {
		t.Fatalf("Pages() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("len(records) = %d, want 0", len(records))
	}
	if src.calls != 1 {
		t.Errorf("calls = %d, want 1", src.calls)
	}
}

func TestPages_MetaTotalAvoidsTrailingFetch(t *testing.T) {
	// With an authoritative total the exact-multiple edge case disappears.
	src := &slicePages{records: makeRecords(30), total: true}

	records, err := Pages(context.Background(), "test", 10, src.fetch, nil)
	if err != nil {
		t.Fatalf("Pages() error = %v", err)
	}
	if len(records) != 30 {
		t.Errorf("len(records) = %d, want 30", len(records))
	}
	if src.calls != 3 {
		t.Errorf("calls = %d, want 3", src.calls)
	}
}

func TestPages_OverstatedTotal(t *testing.T) {
	// A reported total larger than the actual collection (shrunk between
	// pages, or an upstream count bug) must not keep the loop fetching
	// empty pages; the short page still ends it.
	tests := []struct {
		name        string
		records     int
		liesTotal   int
		wantRecords int
		wantCalls   int
	}{
		{
			name:        "empty page under overstated total",
			records:     10,
			liesTotal:   20,
			wantRecords: 10,
			wantCalls:   2,
		},
		{
			name:        "short page under overstated total",
			records:     15,
			liesTotal:   40,
			wantRecords: 15,
			wantCalls:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &slicePages{records: makeRecords(tt.records), liesTotal: tt.liesTotal}

			records, err := Pages(context.Background(), "test", 10, src.fetch, nil)
			if err != nil {
				t.Fatalf("Pages() error = %v", err)
			}
			if len(records) != tt.wantRecords {
				t.Errorf("len(records) = %d, want %d", len(records), tt.wantRecords)
			}
			if src.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", src.calls, tt.wantCalls)
			}
		})
	}
}

func TestPages_FailureReturnsPartial(t *testing.T) {
	src := &slicePages{records: makeRecords(30), failAt: 2}

	records, err := Pages(context.Background(), "test", 10, src.fetch, nil)
	if err == nil {
		t.Fatal("Pages() error = nil, want failure")
	}
	if len(records) != 10 {
		t.Errorf("len(records) = %d, want 10 (first page kept)", len(records))
	}
	if src.calls != 2 {
		t.Errorf("calls = %d, want 2 (no retry)", src.calls)
	}
}

func TestPages_ProgressHook(t *testing.T) {
	src := &slicePages{records: makeRecords(25)}

	var fetched []int
	_, err := Pages(context.Background(), "test", 10, src.fetch, func(n, total int) {
		fetched = append(fetched, n)
	})
	if err != nil {
		t.Fatalf("Pages() error = %v", err)
	}

	want := []int{10, 20, 25}
	if len(fetched) != len(want) {
		t.Fatalf("hook calls = %v, want %v", fetched, want)
	}
	for i := range want {
		if fetched[i] != want[i] {
			t.Errorf("hook[%d] = %d, want %d", i, fetched[i], want[i])
		}
	}
}

func TestPagesFrom_StartOffset(t *testing.T) {
	src := &slicePages{records: makeRecords(30)}

	records, err := PagesFrom(context.Background(), "test", 10, 20, src.fetch, nil)
	if err != nil {
		t.Fatalf("PagesFrom() error = %v", err)
	}
	if len(records) != 10 {
		t.Errorf("len(records) = %d, want 10", len(records))
	}
	if records[0] != 20 {
		t.Errorf("records[0] = %d, want 20", records[0])
	}
}

func TestPages_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &slicePages{records: makeRecords(30)}
	_, err := Pages(ctx, "test", 10, src.fetch, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Pages() error = %v, want context.Canceled", err)
	}
	if src.calls != 0 {
		t.Errorf("calls = %d, want 0", src.calls)
	}
}
