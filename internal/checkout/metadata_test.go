package checkout

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
)

func TestMetadataChunksLargeCart(t *testing.T) {
	var cart []models.CartLineItem
	for i := 0; i < 30; i++ {
		cart = append(cart, models.CartLineItem{
			ProductID:    fmt.Sprintf("product-%02d", i),
			ProductTitle: "Beat número " + strings.Repeat("é", 10),
			UnitPrice:    decimal.RequireFromString("29.99"),
			LicenseTier:  models.TierPremium,
		})
	}

	md, err := EncodeMetadata(cart, "b@example.com", "Buyer", "SPRING")
	require.NoError(t, err)
	assert.NotEqual(t, "1", md[MetaCartChunks])

	for k, v := range md {
		assert.LessOrEqual(t, len(v), metadataValueLimit, "key %s", k)
		assert.True(t, utf8.ValidString(v), "key %s", k)
	}

	decoded, err := DecodeCart(md)
	require.NoError(t, err)
	require.Len(t, decoded, len(cart))
	for i := range cart {
		assert.Equal(t, cart[i].ProductID, decoded[i].ProductID)
		assert.Equal(t, cart[i].ProductTitle, decoded[i].ProductTitle)
		assert.Equal(t, cart[i].LicenseTier, decoded[i].LicenseTier)
		assert.True(t, cart[i].UnitPrice.Equal(decoded[i].UnitPrice))
	}
}

func TestDecodeCartMissingChunk(t *testing.T) {
	md := map[string]string{MetaCartChunks: "2", "cart_0": `[{"p":"a"`}
	_, err := DecodeCart(md)
	assert.Error(t, err)
}

func TestDecodeCartWithoutCount(t *testing.T) {
	md := map[string]string{"cart_0": `[{"p":"a","t":"BASIC",`, "cart_1": `"u":"10"}]`}
	cart, err := DecodeCart(md)
	require.NoError(t, err)
	require.Len(t, cart, 1)
	assert.Equal(t, models.TierBasic, cart[0].LicenseTier)
}

func TestDecodeCartEmpty(t *testing.T) {
	_, err := DecodeCart(map[string]string{})
	assert.Error(t, err)
}
