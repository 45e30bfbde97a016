package inventory

import (
	"context"
	"errors"
	"fmt"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/chhotelal2310/E-Commers-backend/internal/aws"
	"github.com/chhotelal2310/E-Commers-backend/internal/catalog"
	"github.com/chhotelal2310/E-Commers-backend/internal/orders"
)

// FailureReason classifies why a reservation line failed.
type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonNotFound          FailureReason = "not_found"
	ReasonInsufficientStock FailureReason = "insufficient_stock"
)

// ErrTransactionAborted indicates the reservation transaction was canceled by
// an infrastructure-level conflict or throttle. Nothing was applied; the
// caller may retry.
var ErrTransactionAborted = errors.New("reservation transaction aborted")

// ErrStateConflict indicates the caller-supplied transact item (the order
// write) failed its condition while every reservation line would have
// succeeded. Nothing was applied.
var ErrStateConflict = errors.New("order state conflict")

// ReservationError is the typed failure of a single reservation line. It
// carries the failing product id as a field so callers never have to parse
// error text.
type ReservationError struct {
	ProductID string
	Reason    FailureReason
	Available int
	Err       error
}

func (e *ReservationError) Error() string {
	return e.Err.Error()
}

func (e *ReservationError) Unwrap() error { return e.Err }

// ReservationResult is the per-call outcome of Reserve. On failure it names
// the first product (in caller order) whose guarded decrement failed.
type ReservationResult struct {
	OK              bool          `json:"ok"`
	Message         string        `json:"message"`
	FailedProductID string        `json:"failedProductId,omitempty"`
	Reason          FailureReason `json:"reason,omitempty"`
	Available       int           `json:"available,omitempty"`
}

// Service applies a product/quantity list against the stock table atomically
// as a batch. All decrements, plus any order write the caller supplies, go
// into one TransactWriteItems call: either everything commits or nothing
// does, so a partial reservation is not a reachable state.
type Service struct {
	client aws.DynamoDBAPI
	stock  *catalog.Stock
}

// NewService creates a reservation Service over the given stock store.
func NewService(client aws.DynamoDBAPI, stock *catalog.Stock) *Service {
	return &Service{client: client, stock: stock}
}

// Reserve decrements stock for every line, in the order supplied by the
// caller, inside one transaction together with extra (typically the order
// Put at COD creation or the settle Update at payment verification).
//
// On a line failure the returned result names the first failing line and the
// returned error is a *ReservationError wrapping catalog.ErrNotFound or
// *catalog.InsufficientStockError. A condition failure on an extra item
// returns ErrStateConflict; transaction conflicts return
// ErrTransactionAborted.
func (s *Service) Reserve(ctx context.Context, lines []orders.ProductLine, extra ...types.TransactWriteItem) (ReservationResult, error) {
	if len(lines) == 0 {
		return ReservationResult{}, fmt.Errorf("reserve: empty product summary")
	}

	items := make([]types.TransactWriteItem, 0, len(lines)+len(extra))
	for _, line := range lines {
		if line.ProductID == "" || line.Quantity <= 0 {
			return ReservationResult{}, fmt.Errorf("reserve: invalid line for product %q (quantity %d)", line.ProductID, line.Quantity)
		}
		items = append(items, s.stock.DecrementTransactItem(line.ProductID, line.Quantity))
	}
	items = append(items, extra...)

	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return s.cancellationResult(lines, tce)
		}
		// throttles and in-flight transaction collisions surface as top-level
		// API errors, not cancellation reasons
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "TransactionInProgressException", "ThrottlingException", "ProvisionedThroughputExceededException":
				return ReservationResult{}, fmt.Errorf("%w: %s", ErrTransactionAborted, apiErr.ErrorCode())
			}
		}
		return ReservationResult{}, fmt.Errorf("transact write: %w", err)
	}

	return ReservationResult{
		OK:      true,
		Message: fmt.Sprintf("stock reserved for %d items", len(lines)),
	}, nil
}

// cancellationResult maps the transaction's per-item cancellation reasons
// back onto the caller's lines. Reasons are positional, so the first
// ConditionalCheckFailed among the line items is the first failing line in
// list order.
func (s *Service) cancellationResult(lines []orders.ProductLine, tce *types.TransactionCanceledException) (ReservationResult, error) {
	retryable := false
	for i, reason := range tce.CancellationReasons {
		code := ""
		if reason.Code != nil {
			code = *reason.Code
		}
		switch code {
		case "None", "":
			continue
		case "ConditionalCheckFailed":
			if i >= len(lines) {
				// the order item's guard failed; every line would have committed
				return ReservationResult{}, ErrStateConflict
			}
			line := lines[i]
			lineErr := s.stock.DecrementFailure(line.ProductID, line.Quantity, reason.Item)
			resErr := &ReservationError{
				ProductID: line.ProductID,
				Reason:    ReasonNotFound,
				Err:       lineErr,
			}
			var ise *catalog.InsufficientStockError
			if errors.As(lineErr, &ise) {
				resErr.Reason = ReasonInsufficientStock
				resErr.Available = ise.Available
			}
			return ReservationResult{
				FailedProductID: line.ProductID,
				Message:         lineErr.Error(),
				Reason:          resErr.Reason,
				Available:       resErr.Available,
			}, resErr
		case "TransactionConflict", "ThrottlingError", "ProvisionedThroughputExceeded":
			retryable = true
		}
	}
	if retryable {
		return ReservationResult{}, ErrTransactionAborted
	}
	return ReservationResult{}, fmt.Errorf("transaction canceled: %w", tce)
}
