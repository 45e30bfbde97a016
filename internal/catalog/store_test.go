package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chhotelal2310/E-Commers-backend/internal/testutil"
)

func newTestStock(t *testing.T) *Stock {
	t.Helper()
	fake := testutil.NewDynamoFake().AddTable("products", "product_id")
	return NewStock(fake, "products")
}

func seedProduct(t *testing.T, s *Stock, id string, stock int) {
	t.Helper()
	if err := s.Put(context.Background(), Product{ProductID: id, Stock: stock, Price: 100}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func stockOf(t *testing.T, s *Stock, id string) int {
	t.Helper()
	p, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p == nil {
		t.Fatalf("product %s missing", id)
	}
	return p.Stock
}

func TestTryDecrement(t *testing.T) {
	s := newTestStock(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 5)

	if err := s.TryDecrement(ctx, "p1", 2); err != nil {
		t.Fatalf("TryDecrement error: %v", err)
	}
	if got := stockOf(t, s, "p1"); got != 3 {
		t.Fatalf("expected stock 3, got %d", got)
	}
}

func TestTryDecrement_InsufficientStock(t *testing.T) {
	s := newTestStock(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 1)

	err := s.TryDecrement(ctx, "p1", 2)
	var ise *InsufficientStockError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if ise.ProductID != "p1" || ise.Requested != 2 || ise.Available != 1 {
		t.Fatalf("unexpected error detail: %+v", ise)
	}
	// stock untouched
	if got := stockOf(t, s, "p1"); got != 1 {
		t.Fatalf("expected stock 1, got %d", got)
	}
}

func TestTryDecrement_NotFound(t *testing.T) {
	s := newTestStock(t)

	if err := s.TryDecrement(context.Background(), "ghost", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrement(t *testing.T) {
	s := newTestStock(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 2)

	if err := s.Increment(ctx, "p1", 3); err != nil {
		t.Fatalf("Increment error: %v", err)
	}
	if got := stockOf(t, s, "p1"); got != 5 {
		t.Fatalf("expected stock 5, got %d", got)
	}

	if err := s.Increment(ctx, "ghost", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTryDecrement_ConcurrentLastUnit(t *testing.T) {
	s := newTestStock(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 1)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.TryDecrement(ctx, "p1", 1)
		}(i)
	}
	wg.Wait()

	var winners, losers int
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		default:
			var ise *InsufficientStockError
			if !errors.As(err, &ise) {
				t.Fatalf("loser got unexpected error: %v", err)
			}
			losers++
		}
	}
	if winners != 1 || losers != 1 {
		t.Fatalf("expected exactly one winner and one loser, got %d/%d", winners, losers)
	}
	if got := stockOf(t, s, "p1"); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}

func TestTryDecrement_StockNeverNegative(t *testing.T) {
	s := newTestStock(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 20)

	const workers = 50
	var wg sync.WaitGroup
	var succeeded int64
	var mu sync.Mutex
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.TryDecrement(ctx, "p1", 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 20 {
		t.Fatalf("expected exactly 20 successful decrements, got %d", succeeded)
	}
	if got := stockOf(t, s, "p1"); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}
