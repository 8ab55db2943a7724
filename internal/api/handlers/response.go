package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/api/middleware"
	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/pkg/errors"
)

// respondError writes err as {success:false, error:{kind,message}}. Internal errors are logged
// and their message is not exposed.
func respondError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	failure := errors.NewFailure(err)
	if failure.Kind == errors.KindInternal {
		logger.Error(msg, zap.Error(err))
		failure.Message = "internal error"
	}
	respondFailure(c, failure)
}

func respondFailure(c *gin.Context, failure *errors.Failure) {
	c.JSON(errors.HTTPStatus(failure.Kind), gin.H{
		"success": false,
		"error":   failure,
	})
}

func respondValidation(c *gin.Context, err error) {
	respondFailure(c, &errors.Failure{Kind: errors.KindValidation, Message: err.Error()})
}

// principalFromContext builds the credential principal for the authenticated operator calling
// from the request's client address
func principalFromContext(c *gin.Context) (domain.Principal, *domain.Operator, bool) {
	operator, ok := middleware.GetOperatorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   errors.Failure{Kind: errors.KindUnauthorized, Message: "unauthorized"},
		})
		return domain.Principal{}, nil, false
	}
	return domain.Principal{OperatorID: operator.ID.String(), SourceAddress: c.ClientIP()}, operator, true
}

func parseOrderID(c *gin.Context) (uuid.UUID, bool) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   errors.Failure{Kind: errors.KindValidation, Message: "invalid order ID"},
		})
		return uuid.Nil, false
	}
	return orderID, true
}
