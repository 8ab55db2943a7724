package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/pkg/errors"
)

func TestCatalogService_ProductsNormalizesType(t *testing.T) {
	f := newFixture()
	f.client.products[domain.ProductTypeProfile] = []domain.Product{
		{Type: domain.ProductTypeProfile, Code: "LIPID", Profile: &domain.ProfileProduct{TestCount: 8}},
	}
	svc := NewCatalogService(f.gateway, f.client, nil)

	products, err := svc.Products(context.Background(), principal, " profile ")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "LIPID", products[0].Code)
}

func TestCatalogService_ProductsRejectsUnknownType(t *testing.T) {
	f := newFixture()
	svc := NewCatalogService(f.gateway, f.client, nil)

	_, err := svc.Products(context.Background(), principal, "VACCINE")
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	assert.Equal(t, 0, f.gateway.calls)
}

func TestCatalogService_CheckItemsReportsMissing(t *testing.T) {
	f := newFixture()
	f.client.products[domain.ProductTypeTest] = []domain.Product{
		{Type: domain.ProductTypeTest, Code: "CBC", Test: &domain.TestProduct{}},
	}
	svc := NewCatalogService(f.gateway, f.client, nil)

	missing, err := svc.CheckItems(context.Background(), principal, []ItemRequest{
		{ProductCode: "CBC", ProductType: "TEST"},
		{ProductCode: "HBA1C", ProductType: "TEST"},
		{ProductCode: "FULLBODY", ProductType: "OFFER"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"HBA1C"}, missing[domain.ProductTypeTest])
	assert.Equal(t, []string{"FULLBODY"}, missing[domain.ProductTypeOffer])
}

func TestCatalogService_UnavailablePartnerIsReturned(t *testing.T) {
	f := newFixture()
	f.gateway.setErr(&errors.ErrPartnerUnavailable{})
	svc := NewCatalogService(f.gateway, f.client, nil)

	_, err := svc.Products(context.Background(), principal, domain.ProductTypeTest)
	assert.Equal(t, errors.KindPartnerUnavailable, errors.KindOf(err))
}
