package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chhotelal2310/E-Commers-backend/internal/aws"
	"github.com/chhotelal2310/E-Commers-backend/internal/catalog"
	"github.com/chhotelal2310/E-Commers-backend/internal/fulfillment"
	"github.com/chhotelal2310/E-Commers-backend/internal/inventory"
	"github.com/chhotelal2310/E-Commers-backend/internal/metrics"
	"github.com/chhotelal2310/E-Commers-backend/internal/orders"
	"github.com/chhotelal2310/E-Commers-backend/internal/payment"
	"github.com/chhotelal2310/E-Commers-backend/internal/validation"
)

// userIDHeader is set by the upstream auth middleware.
const userIDHeader = "X-User-Id"

// HandlerConfig groups dependencies for the order routes.
type HandlerConfig struct {
	DynamoDBClient    aws.DynamoDBAPI
	SQSClient         aws.SQSAPI
	CloudWatchClient  aws.CloudWatchAPI
	ProductsTable     string
	OrdersTable       string
	NotifyQueueURL    string
	MetricsNamespace  string
	Currency          string
	RazorpayKeyID     string
	RazorpayKeySecret string
	// Gateway overrides the Razorpay client when set (tests).
	Gateway payment.Gateway
	Logger  *zap.Logger
}

// RegisterOrdersRoutes wires the order and payment routes.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	stock := catalog.NewStock(cfg.DynamoDBClient, cfg.ProductsTable)
	orderStore := orders.NewStore(cfg.DynamoDBClient, cfg.OrdersTable)
	reservations := inventory.NewService(cfg.DynamoDBClient, stock)

	gateway := cfg.Gateway
	if gateway == nil {
		gateway = payment.NewRazorpayClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
	}

	var notifier fulfillment.Notifier
	if cfg.SQSClient != nil && cfg.NotifyQueueURL != "" {
		notifier = aws.NewPublisher(cfg.SQSClient, cfg.NotifyQueueURL)
	}

	var emitter *metrics.Emitter
	if cfg.CloudWatchClient != nil {
		emitter = metrics.NewEmitter(cfg.CloudWatchClient, cfg.MetricsNamespace, logger)
	}

	engine := fulfillment.NewEngine(orderStore, reservations, gateway, notifier, cfg.Currency, logger)
	verifier := payment.NewVerifier(orderStore, reservations, gateway, cfg.RazorpayKeySecret, logger)

	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		userID := c.GetHeader(userIDHeader)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_user"})
			return
		}

		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		result, err := engine.CreateOrder(ctx, userID, toOrderRequest(req))
		if err != nil {
			var resErr *inventory.ReservationError
			if errors.As(err, &resErr) {
				emitter.Count(metrics.MetricReservationFailures, map[string]string{"path": "create"})
			}
			writeOrderError(c, logger, err)
			return
		}

		emitter.Count(metrics.MetricOrdersCreated, map[string]string{"method": req.PaymentMethod})
		// tracking ids carry a '#', which must be escaped in a URL
		c.Header("Location", "/orders/track/"+url.PathEscape(result.Order.TrackingID))
		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": "Order Created!",
			"data":    result,
		})
	})

	r.POST("/payments/verify", func(c *gin.Context) {
		ctx := c.Request.Context()

		var conf payment.Confirmation
		if err := c.ShouldBindJSON(&conf); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
			return
		}

		result, err := verifier.Verify(ctx, conf)
		if err != nil {
			writeVerifyError(c, logger, err)
			return
		}

		emitter.Count(metrics.MetricPaymentsVerified, map[string]string{"already_processed": boolLabel(result.AlreadyProcessed)})
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": result.Message,
			"data":    result,
		})
	})

	r.GET("/orders", func(c *gin.Context) {
		userID := c.GetHeader(userIDHeader)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_user"})
			return
		}
		list, err := orderStore.ListByUser(c.Request.Context(), userID)
		if err != nil {
			logger.Error("list orders", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "order_history_failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": list})
	})

	r.GET("/orders/track/:trackingId", func(c *gin.Context) {
		order, err := orderStore.GetByTrackingID(c.Request.Context(), c.Param("trackingId"))
		if err != nil {
			logger.Error("tracking lookup", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "tracking_lookup_failed"})
			return
		}
		if order == nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Order not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": order})
	})
}

func toOrderRequest(req validation.CreateOrderRequest) fulfillment.OrderRequest {
	addr := orders.Address{
		Street:      req.Address.Street,
		City:        req.Address.City,
		State:       req.Address.State,
		PostalCode:  req.Address.PostalCode,
		Country:     req.Address.Country,
		AddressType: req.Address.AddressType,
	}
	if addr.Country == "" {
		addr.Country = "US"
	}
	if addr.AddressType == "" {
		addr.AddressType = "home"
	}

	lines := make([]orders.ProductLine, 0, len(req.ProductSummary))
	for _, l := range req.ProductSummary {
		lines = append(lines, orders.ProductLine{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			SubTotal:  l.SubTotal,
		})
	}

	return fulfillment.OrderRequest{
		PaymentMethod:  req.PaymentMethod,
		FinalAmount:    req.FinalAmount,
		Discount:       req.Discount,
		DeliveryCharge: req.DeliveryCharge,
		Tax:            req.Tax,
		Address:        addr,
		ProductSummary: lines,
	}
}

func writeOrderError(c *gin.Context, logger *zap.Logger, err error) {
	var resErr *inventory.ReservationError
	switch {
	case errors.As(err, &resErr):
		if resErr.Reason == inventory.ReasonNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":     "product_not_found",
				"productId": resErr.ProductID,
			})
			return
		}
		c.JSON(http.StatusConflict, gin.H{
			"error":     "insufficient_stock",
			"productId": resErr.ProductID,
			"available": resErr.Available,
		})
	case errors.Is(err, inventory.ErrTransactionAborted):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transaction_aborted", "retryable": true})
	case errors.Is(err, payment.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway_unavailable", "retryable": true})
	case errors.Is(err, fulfillment.ErrUnsupportedMethod):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_payment_method"})
	default:
		logger.Error("create order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order_creation_failed"})
	}
}

func writeVerifyError(c *gin.Context, logger *zap.Logger, err error) {
	var notCaptured *payment.PaymentNotCapturedError
	var badState *payment.InvalidOrderStateError
	var resErr *inventory.ReservationError
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
	case errors.As(err, &notCaptured):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": notCaptured.Error(), "status": notCaptured.Status})
	case errors.Is(err, orders.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Order not found"})
	case errors.As(err, &badState):
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": badState.Error()})
	case errors.As(err, &resErr):
		c.JSON(http.StatusConflict, gin.H{
			"success":   false,
			"message":   resErr.Error(),
			"productId": resErr.ProductID,
			"available": resErr.Available,
		})
	case errors.Is(err, inventory.ErrTransactionAborted):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "settlement conflict, retry", "retryable": true})
	case errors.Is(err, payment.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": "payment gateway unavailable", "retryable": true})
	default:
		logger.Error("verify payment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error during payment verification"})
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
