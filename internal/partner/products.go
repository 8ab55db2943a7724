package partner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/domain"
	apperrors "github.com/jafarshop/labconnect/pkg/errors"
)

// ProductsRequest represents the catalog query payload
type ProductsRequest struct {
	ProductType string `json:"productType"`
}

// ProductsResponse represents the catalog query result. Products are decoded per
// requested type once the envelope is read.
type ProductsResponse struct {
	Response string            `json:"response"`
	RespID   string            `json:"respId"`
	Products []json.RawMessage `json:"products"`
}

type productHeader struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Rate string `json:"rate"`
}

// Products fetches the partner catalog for one product type
func (c *Client) Products(ctx context.Context, apiKey string, productType domain.ProductType) ([]domain.Product, error) {
	if !productType.IsValid() {
		return nil, fmt.Errorf("invalid product type: %q", productType)
	}

	var resp ProductsResponse
	if err := c.post(ctx, "products", "/productsmaster/Products", apiKey, ProductsRequest{ProductType: string(productType)}, &resp); err != nil {
		return nil, err
	}
	if resp.RespID != respIDSuccess {
		return nil, &apperrors.ErrPartnerRequest{
			Operation:  "products",
			StatusCode: http.StatusOK,
			Err:        fmt.Errorf("catalog unavailable: %s", resp.Response),
		}
	}

	products := make([]domain.Product, 0, len(resp.Products))
	for _, raw := range resp.Products {
		product, err := DecodeProduct(productType, raw)
		if err != nil {
			c.logger.Warn("Skipping undecodable partner product",
				zap.String("product_type", string(productType)),
				zap.Error(err),
			)
			continue
		}
		products = append(products, product)
	}

	return products, nil
}

// DecodeProduct decodes one catalog entry for the given discriminant
func DecodeProduct(productType domain.ProductType, raw json.RawMessage) (domain.Product, error) {
	var header productHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return domain.Product{}, fmt.Errorf("failed to decode product: %w", err)
	}
	if header.Code == "" {
		return domain.Product{}, fmt.Errorf("product without code")
	}

	product := domain.Product{
		Type: productType,
		Code: header.Code,
		Name: header.Name,
	}
	if header.Rate != "" {
		rate, err := strconv.ParseFloat(header.Rate, 64)
		if err != nil {
			return domain.Product{}, fmt.Errorf("invalid rate %q for %s: %w", header.Rate, header.Code, err)
		}
		product.Rate = rate
	}

	switch productType {
	case domain.ProductTypeTest:
		product.Test = &domain.TestProduct{}
		if err := json.Unmarshal(raw, product.Test); err != nil {
			return domain.Product{}, fmt.Errorf("failed to decode test %s: %w", header.Code, err)
		}
	case domain.ProductTypeProfile:
		product.Profile = &domain.ProfileProduct{}
		if err := json.Unmarshal(raw, product.Profile); err != nil {
			return domain.Product{}, fmt.Errorf("failed to decode profile %s: %w", header.Code, err)
		}
	case domain.ProductTypeOffer:
		product.Offer = &domain.OfferProduct{}
		if err := json.Unmarshal(raw, product.Offer); err != nil {
			return domain.Product{}, fmt.Errorf("failed to decode offer %s: %w", header.Code, err)
		}
	default:
		return domain.Product{}, fmt.Errorf("invalid product type: %q", productType)
	}

	return product, nil
}
