package v1

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rxflow/dispensary/internal/domain"
	"github.com/rxflow/dispensary/pkg/auth"
	"github.com/rxflow/dispensary/pkg/metrics"
)

const (
	ctxClaims    = "claims"
	ctxRequestID = "request_id"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func Logging(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func Metrics(collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		collector.InFlightGauge.Inc()
		start := time.Now()
		c.Next()
		collector.InFlightGauge.Dec()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		collector.RequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		collector.RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// Authenticate validates the bearer token and stores the operator claims.
func Authenticate(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token"})
			return
		}

		claims, err := jwtManager.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
			return
		}

		c.Set(ctxClaims, claims)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *domain.Claims {
	if v, ok := c.Get(ctxClaims); ok {
		if claims, ok := v.(*domain.Claims); ok {
			return claims
		}
	}
	return &domain.Claims{}
}
