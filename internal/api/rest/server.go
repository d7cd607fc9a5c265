package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papertrade/engine/internal/api/dto"
	"github.com/papertrade/engine/internal/config"
	"github.com/papertrade/engine/internal/domain"
	"github.com/papertrade/engine/internal/metrics"
	"github.com/papertrade/engine/internal/middleware"
	"github.com/papertrade/engine/internal/port"
)

// Server is the REST gateway. It never touches the matching core: order
// submissions become queue messages, reads go straight to the state
// keys the engine maintains in the store.
type Server struct {
	store port.Store
	cfg   config.Config
	log   *zap.Logger
}

func NewServer(store port.Store, cfg config.Config, log *zap.Logger) *Server {
	return &Server{store: store, cfg: cfg, log: log}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(s.log))
	r.Use(middleware.CORS())
	r.Use(requestCounter())

	rl := middleware.NewRateLimiter(10 * time.Millisecond)
	orders := r.Group("/order", rl.Middleware())
	orders.POST("/place", s.placeOrder)
	orders.POST("/cancel", s.cancelOrder)
	orders.GET("/status/:orderId", s.orderStatus)
	orders.GET("/user/:userId", s.userOrders)

	r.GET("/market/quote/:symbol", s.quote)
	r.GET("/market/orderbook/:symbol", s.quote)
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}

func requestCounter() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		class := fmt.Sprintf("%dxx", c.Writer.Status()/100)
		metrics.GatewayRequests.WithLabelValues(route, class).Inc()
	}
}

func (s *Server) placeOrder(c *gin.Context) {
	var req dto.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if err := s.enqueue(c, req.Message()); err != nil {
		return
	}
	s.log.Info("order queued",
		zap.String("requestId", uuid.NewString()),
		zap.Uint64("userId", req.UserID),
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side))
	c.JSON(http.StatusAccepted, dto.QueuedResponse{Success: true, Message: "Order queued for processing"})
}

func (s *Server) cancelOrder(c *gin.Context) {
	var req dto.CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if err := s.enqueue(c, req.Message()); err != nil {
		return
	}
	c.JSON(http.StatusAccepted, dto.QueuedResponse{Success: true, Message: "Cancel queued for processing"})
}

func (s *Server) enqueue(c *gin.Context, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
		return err
	}
	if err := s.store.PushQueue(c.Request.Context(), s.cfg.Queues.OrderInput, payload); err != nil {
		s.log.Error("enqueue failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "order queue unavailable"})
		return err
	}
	return nil
}

func (s *Server) orderStatus(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("orderId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid order id"})
		return
	}
	s.serveKey(c, "order:"+strconv.FormatUint(id, 10), "order not found")
}

// userOrders mirrors the original gateway: per-user order lists are not
// indexed store-side, so the route answers with an empty list.
func (s *Server) userOrders(c *gin.Context) {
	if _, err := strconv.ParseUint(c.Param("userId"), 10, 64); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid user id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": []any{}})
}

func (s *Server) quote(c *gin.Context) {
	symbol := c.Param("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: domain.ErrInvalidSymbol.Message})
		return
	}
	s.serveKey(c, "orderbook:"+symbol, "no market data for symbol")
}

// serveKey relays a stored JSON document verbatim.
func (s *Server) serveKey(c *gin.Context, key, missing string) {
	b, err := s.store.Get(c.Request.Context(), key)
	if err != nil {
		s.log.Error("state read failed", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "state store unavailable"})
		return
	}
	if b == nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: missing})
		return
	}
	c.Data(http.StatusOK, "application/json", b)
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UnixMilli()})
}
