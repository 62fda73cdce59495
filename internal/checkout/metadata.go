package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
)

// Metadata keys attached to the provider session. The cart is JSON split
// across cart_0..cart_<n-1> because provider metadata values are capped at
// metadataValueLimit bytes.
const (
	MetaBuyerEmail = "buyer_email"
	MetaBuyerName  = "buyer_name"
	MetaCouponCode = "coupon_code"
	MetaCartChunks = "cart_chunks"

	metaCartPrefix     = "cart_"
	metadataValueLimit = 500
	maxCartChunks      = 40
)

// ErrCartTooLarge is returned when the encoded cart does not fit in metadata.
var ErrCartTooLarge = errors.New("cart too large for checkout metadata")

type compactLine struct {
	ProductID string             `json:"p"`
	Tier      models.LicenseTier `json:"t"`
	Price     decimal.Decimal    `json:"u"`
	Title     string             `json:"n,omitempty"`
}

// EncodeMetadata builds the provider metadata for a checkout.
func EncodeMetadata(cart []models.CartLineItem, buyerEmail, buyerName, couponCode string) (map[string]string, error) {
	lines := make([]compactLine, 0, len(cart))
	for _, item := range cart {
		lines = append(lines, compactLine{
			ProductID: item.ProductID,
			Tier:      item.LicenseTier,
			Price:     item.UnitPrice,
			Title:     item.ProductTitle,
		})
	}
	encoded, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("encode cart metadata: %w", err)
	}

	chunks := splitChunks(string(encoded), metadataValueLimit)
	if len(chunks) > maxCartChunks {
		return nil, ErrCartTooLarge
	}

	md := map[string]string{
		MetaBuyerEmail: buyerEmail,
		MetaCartChunks: strconv.Itoa(len(chunks)),
	}
	if buyerName != "" {
		md[MetaBuyerName] = buyerName
	}
	if couponCode != "" {
		md[MetaCouponCode] = couponCode
	}
	for i, chunk := range chunks {
		md[metaCartPrefix+strconv.Itoa(i)] = chunk
	}
	return md, nil
}

// DecodeCart rebuilds the cart from provider metadata.
func DecodeCart(md map[string]string) ([]models.CartLineItem, error) {
	count := -1
	if raw, ok := md[MetaCartChunks]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("decode cart metadata: bad chunk count %q", raw)
		}
		count = n
	}

	var joined []byte
	for i := 0; count < 0 || i < count; i++ {
		chunk, ok := md[metaCartPrefix+strconv.Itoa(i)]
		if !ok {
			if count < 0 {
				break
			}
			return nil, fmt.Errorf("decode cart metadata: missing chunk %d of %d", i, count)
		}
		joined = append(joined, chunk...)
	}
	if len(joined) == 0 {
		return nil, errors.New("decode cart metadata: no cart in metadata")
	}

	var lines []compactLine
	if err := json.Unmarshal(joined, &lines); err != nil {
		return nil, fmt.Errorf("decode cart metadata: %w", err)
	}
	cart := make([]models.CartLineItem, 0, len(lines))
	for _, l := range lines {
		cart = append(cart, models.CartLineItem{
			ProductID:    l.ProductID,
			ProductTitle: l.Title,
			UnitPrice:    l.Price,
			LicenseTier:  l.Tier,
		})
	}
	return cart, nil
}

// splitChunks cuts s into pieces of at most limit bytes without splitting a
// UTF-8 sequence.
func splitChunks(s string, limit int) []string {
	var chunks []string
	for len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
