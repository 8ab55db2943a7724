package gateway

import (
	"context"
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/partner"
	"github.com/jafarshop/labconnect/internal/queue"
	"github.com/jafarshop/labconnect/pkg/errors"
)

// CredentialSource resolves and invalidates partner credentials per principal
type CredentialSource interface {
	Credential(ctx context.Context, p domain.Principal) (string, error)
	Invalidate(ctx context.Context, p domain.Principal, credential string) error
}

// CallFunc is a partner call made with a resolved credential
type CallFunc func(ctx context.Context, credential string) error

// Gateway runs authenticated partner calls on behalf of a principal
type Gateway struct {
	dispatcher  *Dispatcher
	credentials CredentialSource
	logger      *zap.Logger
}

// New creates a gateway
func New(dispatcher *Dispatcher, credentials CredentialSource, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		dispatcher:  dispatcher,
		credentials: credentials,
		logger:      logger,
	}
}

// Execute resolves a credential for p and runs call through the dispatcher at normal priority.
// If the partner rejects the credential during call it is invalidated and the call is retried
// once with a fresh one; a second rejection is reported as *errors.ErrCredentialExpired.
// Failures to acquire a credential are returned unchanged and never retried here.
func (g *Gateway) Execute(ctx context.Context, p domain.Principal, call CallFunc) error {
	rejected, err := g.attempt(ctx, p, call)
	if !rejected {
		return err
	}

	g.logger.Warn("Partner rejected credential, acquiring a new one",
		zap.String("operator_id", p.OperatorID),
		zap.String("source_address", p.SourceAddress),
	)

	rejected, err = g.attempt(ctx, p, call)
	if rejected {
		return &errors.ErrCredentialExpired{OperatorID: p.OperatorID}
	}
	return err
}

// attempt reports rejected only when the dispatched call saw the credential refused
func (g *Gateway) attempt(ctx context.Context, p domain.Principal, call CallFunc) (bool, error) {
	credential, err := g.credentials.Credential(ctx, p)
	if err != nil {
		return false, err
	}

	err = g.dispatcher.Do(ctx, queue.Normal, func(ctx context.Context) error {
		return call(ctx, credential)
	})
	if !stderrors.Is(err, partner.ErrCredentialRejected) {
		return false, err
	}

	if invErr := g.credentials.Invalidate(ctx, p, credential); invErr != nil {
		g.logger.Error("Failed to invalidate rejected credential", zap.Error(invErr))
	}
	return true, err
}

// Stats returns breaker and queue statistics
func (g *Gateway) Stats() Stats {
	return g.dispatcher.Stats()
}
