package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/repository"
	"github.com/jafarshop/labconnect/pkg/errors"
)

const operatorContextKey = "operator"

// AuthMiddleware authenticates operators by API key, sent as a Bearer token or X-API-Key
func AuthMiddleware(operators repository.OperatorRepository, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := extractAPIKey(c.Request)
		if apiKey == "" {
			abortUnauthorized(c, "missing API key")
			return
		}

		operator, err := operators.GetByAPIKey(c.Request.Context(), apiKey)
		if err != nil {
			if errors.KindOf(err) != errors.KindNotFound && errors.KindOf(err) != errors.KindUnauthorized {
				logger.Error("Failed to look up operator", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   errors.Failure{Kind: errors.KindInternal, Message: "internal error"},
				})
				return
			}
			abortUnauthorized(c, "invalid API key")
			return
		}
		if !operator.IsActive {
			abortUnauthorized(c, "operator disabled")
			return
		}

		c.Set(operatorContextKey, operator)
		c.Next()
	}
}

// GetOperatorFromContext returns the operator set by AuthMiddleware
func GetOperatorFromContext(c *gin.Context) (*domain.Operator, bool) {
	value, exists := c.Get(operatorContextKey)
	if !exists {
		return nil, false
	}
	operator, ok := value.(*domain.Operator)
	return operator, ok
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   errors.Failure{Kind: errors.KindUnauthorized, Message: message},
	})
}
