package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/chhotelal2310/E-Commers-backend/internal/catalog"
	"github.com/chhotelal2310/E-Commers-backend/internal/inventory"
	"github.com/chhotelal2310/E-Commers-backend/internal/orders"
	"github.com/chhotelal2310/E-Commers-backend/internal/testutil"
	"go.uber.org/zap"
)

const testSecret = "test_key_secret"

// stubGateway serves canned payments keyed by payment id.
type stubGateway struct {
	payments map[string]GatewayPayment
	err      error
}

func (g *stubGateway) CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error) {
	return &GatewayOrder{ID: "order_stub", Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt, Status: "created"}, nil
}

func (g *stubGateway) FetchPayment(ctx context.Context, paymentID string) (*GatewayPayment, error) {
	if g.err != nil {
		return nil, g.err
	}
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("payment %s not found", paymentID)
	}
	return &p, nil
}

type verifyFixture struct {
	fake     *testutil.DynamoFake
	stock    *catalog.Stock
	orders   *orders.Store
	gateway  *stubGateway
	verifier *Verifier
}

func newVerifyFixture(t *testing.T) *verifyFixture {
	t.Helper()
	fake := testutil.NewDynamoFake().
		AddTable("products", "product_id").
		AddTable("orders", "order_id")
	stock := catalog.NewStock(fake, "products")
	orderStore := orders.NewStore(fake, "orders")
	gateway := &stubGateway{payments: map[string]GatewayPayment{}}
	return &verifyFixture{
		fake:     fake,
		stock:    stock,
		orders:   orderStore,
		gateway:  gateway,
		verifier: NewVerifier(orderStore, inventory.NewService(fake, stock), gateway, testSecret, zap.NewNop()),
	}
}

func (f *verifyFixture) seedProduct(t *testing.T, id string, stock int) {
	t.Helper()
	if err := f.stock.Put(context.Background(), catalog.Product{ProductID: id, Stock: stock, Price: 100}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func (f *verifyFixture) seedPendingOrder(t *testing.T, orderID string, lines ...orders.ProductLine) {
	t.Helper()
	err := f.orders.Create(context.Background(), orders.Order{
		OrderID:           orderID,
		TrackingID:        orders.NewTrackingID(),
		UserID:            "user-1",
		PaymentMethod:     orders.MethodRazorPay,
		PaymentStatus:     orders.PaymentPending,
		FulfillmentStatus: orders.FulfillmentConfirmed,
		FinalAmount:       200,
		GatewayOrderID:    "order_gw",
		ProductSummary:    lines,
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func (f *verifyFixture) stockOf(t *testing.T, id string) int {
	t.Helper()
	p, err := f.stock.Get(context.Background(), id)
	if err != nil || p == nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return p.Stock
}

func sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%s|%s", orderID, paymentID)
	return hex.EncodeToString(mac.Sum(nil))
}

func confirmation(orderID string) Confirmation {
	return Confirmation{
		OrderID:          orderID,
		GatewayOrderID:   "order_gw",
		GatewayPaymentID: "pay_1",
		Signature:        sign("order_gw", "pay_1"),
	}
}

func capturedPayment(amount int64) GatewayPayment {
	return GatewayPayment{ID: "pay_1", OrderID: "order_gw", Status: StatusCaptured, Amount: amount}
}

func TestVerify_SettlesOrderAndStock(t *testing.T) {
	f := newVerifyFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", 5)
	f.seedPendingOrder(t, "o1", orders.ProductLine{ProductID: "p1", Quantity: 2, SubTotal: 200})
	f.gateway.payments["pay_1"] = capturedPayment(20000)

	res, err := f.verifier.Verify(ctx, confirmation("o1"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.AlreadyProcessed {
		t.Fatal("first verification reported as already processed")
	}
	if res.PaymentID != "pay_1" {
		t.Fatalf("unexpected payment id %s", res.PaymentID)
	}
	if got := f.stockOf(t, "p1"); got != 3 {
		t.Fatalf("stock %d after settle, want 3", got)
	}
	order, _ := f.orders.Get(ctx, "o1")
	if order.PaymentStatus != orders.PaymentCompleted {
		t.Fatalf("payment status %s", order.PaymentStatus)
	}
	if order.PaymentDetails.TransactionID != "pay_1" || order.PaymentDetails.TotalPaidAmount != 200 {
		t.Fatalf("payment details %+v", order.PaymentDetails)
	}
}

func TestVerify_DuplicateCallbackIsNoOp(t *testing.T) {
	f := newVerifyFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", 5)
	f.seedPendingOrder(t, "o1", orders.ProductLine{ProductID: "p1", Quantity: 2, SubTotal: 200})
	f.gateway.payments["pay_1"] = capturedPayment(20000)

	if _, err := f.verifier.Verify(ctx, confirmation("o1")); err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	res, err := f.verifier.Verify(ctx, confirmation("o1"))
	if err != nil {
		t.Fatalf("second Verify: %v", err)
	}
	if !res.AlreadyProcessed {
		t.Fatal("duplicate callback not reported as already processed")
	}
	if got := f.stockOf(t, "p1"); got != 3 {
		t.Fatalf("stock decremented twice: %d", got)
	}
}

func TestVerify_ConcurrentCallbacks(t *testing.T) {
	f := newVerifyFixture(t)
	f.seedProduct(t, "p1", 5)
	f.seedPendingOrder(t, "o1", orders.ProductLine{ProductID: "p1", Quantity: 2, SubTotal: 200})
	f.gateway.payments["pay_1"] = capturedPayment(20000)

	var wg sync.WaitGroup
	results := make([]VerifyResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.verifier.Verify(context.Background(), confirmation("o1"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("callback %d: %v", i, err)
		}
	}
	dupes := 0
	for _, r := range results {
		if r.AlreadyProcessed {
			dupes++
		}
	}
	if dupes != 1 {
		t.Fatalf("expected exactly one already-processed outcome, got %d", dupes)
	}
	if got := f.stockOf(t, "p1"); got != 3 {
		t.Fatalf("stock %d, want 3 (decremented exactly once)", got)
	}
}

func TestVerify_TamperedSignature(t *testing.T) {
	f := newVerifyFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", 5)
	f.seedPendingOrder(t, "o1", orders.ProductLine{ProductID: "p1", Quantity: 2, SubTotal: 200})
	f.gateway.payments["pay_1"] = capturedPayment(20000)

	conf := confirmation("o1")
	conf.Signature = sign("order_gw", "pay_other")
	_, err := f.verifier.Verify(ctx, conf)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if got := f.stockOf(t, "p1"); got != 5 {
		t.Fatalf("stock mutated on invalid signature: %d", got)
	}
	order, _ := f.orders.Get(ctx, "o1")
	if order.PaymentStatus != orders.PaymentPending {
		t.Fatalf("order mutated on invalid signature: %s", order.PaymentStatus)
	}
}

func TestVerify_EmptySignatureFields(t *testing.T) {
	f := newVerifyFixture(t)
	conf := confirmation("o1")
	conf.Signature = ""
	if _, err := f.verifier.Verify(context.Background(), conf); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerify_PaymentNotCaptured(t *testing.T) {
	f := newVerifyFixture(t)
	f.seedProduct(t, "p1", 5)
	f.seedPendingOrder(t, "o1", orders.ProductLine{ProductID: "p1", Quantity: 2, SubTotal: 200})
	f.gateway.payments["pay_1"] = GatewayPayment{ID: "pay_1", OrderID: "order_gw", Status: "authorized", Amount: 20000}

	_, err := f.verifier.Verify(context.Background(), confirmation("o1"))
	var nce *PaymentNotCapturedError
	if !errors.As(err, &nce) {
		t.Fatalf("expected PaymentNotCapturedError, got %v", err)
	}
	if nce.Status != "authorized" {
		t.Fatalf("unexpected status %s", nce.Status)
	}
	if got := f.stockOf(t, "p1"); got != 5 {
		t.Fatalf("stock mutated on uncaptured payment: %d", got)
	}
}

func TestVerify_OrderNotFound(t *testing.T) {
	f := newVerifyFixture(t)
	f.gateway.payments["pay_1"] = capturedPayment(20000)

	_, err := f.verifier.Verify(context.Background(), confirmation("missing"))
	if !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("expected orders.ErrNotFound, got %v", err)
	}
}

func TestVerify_FailedOrderNotResurrected(t *testing.T) {
	f := newVerifyFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", 5)
	f.seedPendingOrder(t, "o1", orders.ProductLine{ProductID: "p1", Quantity: 2, SubTotal: 200})
	f.gateway.payments["pay_1"] = capturedPayment(20000)
	if err := f.orders.MarkPaymentFailed(ctx, "o1"); err != nil {
		t.Fatalf("MarkPaymentFailed: %v", err)
	}

	_, err := f.verifier.Verify(ctx, confirmation("o1"))
	var ise *InvalidOrderStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidOrderStateError, got %v", err)
	}
	if got := f.stockOf(t, "p1"); got != 5 {
		t.Fatalf("stock mutated for failed order: %d", got)
	}
}

func TestVerify_InsufficientStockMarksFailed(t *testing.T) {
	f := newVerifyFixture(t)
	ctx := context.Background()
	f.seedProduct(t, "p1", 1)
	f.seedPendingOrder(t, "o1", orders.ProductLine{ProductID: "p1", Quantity: 2, SubTotal: 200})
	f.gateway.payments["pay_1"] = capturedPayment(20000)

	_, err := f.verifier.Verify(ctx, confirmation("o1"))
	var resErr *inventory.ReservationError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ReservationError, got %v", err)
	}
	if resErr.Reason != inventory.ReasonInsufficientStock || resErr.Available != 1 {
		t.Fatalf("unexpected failure detail %+v", resErr)
	}
	if got := f.stockOf(t, "p1"); got != 1 {
		t.Fatalf("stock mutated on failed settle: %d", got)
	}
	order, _ := f.orders.Get(ctx, "o1")
	if order.PaymentStatus != orders.PaymentFailed {
		t.Fatalf("order not marked failed, got %s", order.PaymentStatus)
	}
}

func TestVerify_GatewayUnavailable(t *testing.T) {
	f := newVerifyFixture(t)
	f.seedProduct(t, "p1", 5)
	f.seedPendingOrder(t, "o1", orders.ProductLine{ProductID: "p1", Quantity: 2, SubTotal: 200})
	f.gateway.err = fmt.Errorf("fetch payment pay_1: %w", ErrGatewayUnavailable)

	_, err := f.verifier.Verify(context.Background(), confirmation("o1"))
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if got := f.stockOf(t, "p1"); got != 5 {
		t.Fatalf("stock mutated on gateway failure: %d", got)
	}
}
