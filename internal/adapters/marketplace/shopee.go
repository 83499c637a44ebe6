package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/avalem/pricewatch/internal/domain/model"
)

// shopeeItem mirrors the item payload returned by the Shopee API.
// Shopee reports price as an integer and stock as a count; there is no
// nested price object like Amazon's.
type shopeeItem struct {
	ItemID   string `json:"itemid"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
	Stock    int    `json:"stock"`
}

// ShopeeAdapter talks to the Shopee item API.
//
// Expected endpoints:
//
//	GET {base}/api/v2/item/get?itemid=...      -> {"item": {...}}
//	GET {base}/api/v2/search?keyword=...       -> {"items": [...]}
type ShopeeAdapter struct {
	baseURL string
	client  *http.Client
}

// NewShopeeAdapter creates an adapter rooted at baseURL.
func NewShopeeAdapter(baseURL string) *ShopeeAdapter {
	return &ShopeeAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Marketplace identifies the upstream this adapter talks to.
func (s *ShopeeAdapter) Marketplace() model.Marketplace {
	return model.MarketplaceShopee
}

// FetchOffer fetches the current offer for a known item id.
func (s *ShopeeAdapter) FetchOffer(ctx context.Context, externalID string) (model.Offer, error) {
	u := s.baseURL + "/api/v2/item/get?itemid=" + url.QueryEscape(externalID)
	body, err := doGET(ctx, s.client, u)
	if err != nil {
		return model.Offer{}, err
	}

	var wrapped struct {
		Item *shopeeItem `json:"item"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil || wrapped.Item == nil {
		return model.Offer{}, fmt.Errorf("%w: missing item", ErrMalformed)
	}
	return normalizeShopee(*wrapped.Item)
}

// SearchOffers returns offers matching a keyword.
func (s *ShopeeAdapter) SearchOffers(ctx context.Context, keyword string) ([]model.Offer, error) {
	u := s.baseURL + "/api/v2/search?keyword=" + url.QueryEscape(strings.TrimSpace(keyword))
	body, err := doGET(ctx, s.client, u)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Items []shopeeItem `json:"items"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	offers := make([]model.Offer, 0, len(resp.Items))
	for _, it := range resp.Items {
		offer, err := normalizeShopee(it)
		if err != nil {
			continue
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

func normalizeShopee(it shopeeItem) (model.Offer, error) {
	if strings.TrimSpace(it.ItemID) == "" || it.Price <= 0 {
		return model.Offer{}, fmt.Errorf("%w: missing itemid or price", ErrMalformed)
	}
	return model.Offer{
		ExternalID: it.ItemID,
		Price:      it.Price,
		Currency:   it.Currency,
		Available:  it.Stock > 0,
	}, nil
}
