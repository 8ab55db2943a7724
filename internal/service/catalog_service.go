package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/pkg/errors"
)

type catalogService struct {
	gateway PartnerGateway
	client  PartnerClient
	logger  *zap.Logger
}

// NewCatalogService creates a service reading the partner product catalog
func NewCatalogService(gw PartnerGateway, client PartnerClient, logger *zap.Logger) *catalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &catalogService{
		gateway: gw,
		client:  client,
		logger:  logger,
	}
}

// Products lists the partner catalog for one product type
func (s *catalogService) Products(ctx context.Context, p domain.Principal, productType domain.ProductType) ([]domain.Product, error) {
	productType = domain.ProductType(strings.ToUpper(strings.TrimSpace(string(productType))))
	if !productType.IsValid() {
		return nil, &errors.ErrValidation{Field: "product_type", Message: fmt.Sprintf("invalid product type %q", productType)}
	}

	var products []domain.Product
	err := s.gateway.Execute(ctx, p, func(ctx context.Context, credential string) error {
		var err error
		products, err = s.client.Products(ctx, credential, productType)
		return err
	})
	if err != nil {
		s.logger.Warn("Failed to fetch partner catalog",
			zap.String("product_type", string(productType)),
			zap.Error(err),
		)
		return nil, err
	}

	return products, nil
}

// CheckItems returns the requested items missing from the partner catalog, keyed by product type
func (s *catalogService) CheckItems(ctx context.Context, p domain.Principal, items []ItemRequest) (map[domain.ProductType][]string, error) {
	wanted := make(map[domain.ProductType][]string)
	for _, item := range items {
		t := domain.ProductType(item.ProductType)
		wanted[t] = append(wanted[t], item.ProductCode)
	}

	missing := make(map[domain.ProductType][]string)
	for productType, codes := range wanted {
		products, err := s.Products(ctx, p, productType)
		if err != nil {
			return nil, err
		}

		known := make(map[string]bool, len(products))
		for _, product := range products {
			known[product.Code] = true
		}
		for _, code := range codes {
			if !known[code] {
				missing[productType] = append(missing[productType], code)
			}
		}
	}

	return missing, nil
}
