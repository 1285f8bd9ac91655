package fanout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestRunOrdersResultsByIndex(t *testing.T) {
	results := Run(context.Background(), 5, func(ctx context.Context, i int) (int, error) {
		return i * i, nil
	})
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}
	for i, r := range results {
		if r.Index != i || r.Value != i*i || r.Err != nil {
			t.Errorf("result %d = %+v, want Index=%d Value=%d", i, r, i, i*i)
		}
	}
}

func TestRunToleratesIndividualErrors(t *testing.T) {
	boom := errors.New("boom")
	results := Run(context.Background(), 3, func(ctx context.Context, i int) (int, error) {
		if i == 1 {
			return 0, boom
		}
		return i, nil
	})
	if results[1].Err != boom {
		t.Errorf("results[1].Err = %v, want boom", results[1].Err)
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Error("unrelated indices should not carry index 1's error")
	}
}

func TestRunActuallyRunsConcurrently(t *testing.T) {
	var concurrent int32
	var maxSeen int32
	_ = Run(context.Background(), 8, func(ctx context.Context, i int) (struct{}, error) {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			m := atomic.LoadInt32(&maxSeen)
			if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
				break
			}
		}
		atomic.AddInt32(&concurrent, -1)
		return struct{}{}, nil
	})
	if maxSeen < 2 {
		t.Errorf("max concurrent = %d, want at least 2 (calls should overlap)", maxSeen)
	}
}

func TestRunZero(t *testing.T) {
	results := Run(context.Background(), 0, func(ctx context.Context, i int) (int, error) {
		t.Fatal("fn should not be called for n=0")
		return 0, nil
	})
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}
