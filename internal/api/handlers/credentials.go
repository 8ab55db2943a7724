package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/credential"
	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/pkg/errors"
)

// CredentialService manages partner credential sessions for principals
type CredentialService interface {
	Acquire(ctx context.Context, p domain.Principal) (*credential.AcquireResult, error)
	State(ctx context.Context, p domain.Principal) (credential.State, error)
	Revoke(ctx context.Context, operatorID string) (int, error)
}

// HandleAcquireCredential handles POST /v1/credentials/acquire.
// The credential value itself is never returned.
func HandleAcquireCredential(credentials CredentialService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _, ok := principalFromContext(c)
		if !ok {
			return
		}

		res, err := credentials.Acquire(c.Request.Context(), p)
		if err != nil {
			respondError(c, logger, "Failed to acquire partner credential", err)
			return
		}
		if !res.Success {
			c.JSON(errors.HTTPStatus(res.Failure.Kind), res)
			return
		}

		c.JSON(http.StatusOK, res)
	}
}

// HandleCredentialState handles GET /v1/credentials
func HandleCredentialState(credentials CredentialService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _, ok := principalFromContext(c)
		if !ok {
			return
		}

		state, err := credentials.State(c.Request.Context(), p)
		if err != nil {
			respondError(c, logger, "Failed to read credential state", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"state":          state,
			"source_address": p.SourceAddress,
		})
	}
}

// HandleRevokeCredentials handles DELETE /v1/credentials
func HandleRevokeCredentials(credentials CredentialService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _, ok := principalFromContext(c)
		if !ok {
			return
		}

		revoked, err := credentials.Revoke(c.Request.Context(), p.OperatorID)
		if err != nil {
			respondError(c, logger, "Failed to revoke partner credentials", err)
			return
		}

		logger.Info("Partner credentials revoked",
			zap.String("operator_id", p.OperatorID),
			zap.Int("revoked", revoked),
		)
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"revoked": revoked,
		})
	}
}
