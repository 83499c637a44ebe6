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

// amazonProduct mirrors the product payload returned by the Amazon API.
type amazonProduct struct {
	ASIN  string `json:"asin"`
	Title string `json:"title"`
	Price *struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"price"`
	Availability string `json:"availability"`
}

type amazonSearchResponse struct {
	Results []amazonProduct `json:"results"`
}

// AmazonAdapter talks to the Amazon product API.
//
// Expected endpoints:
//
//	GET {base}/products/{asin}          -> {"product": {...}}
//	GET {base}/products/search?q=...    -> {"results": [...]}
type AmazonAdapter struct {
	baseURL string
	client  *http.Client
}

// NewAmazonAdapter creates an adapter rooted at baseURL.
func NewAmazonAdapter(baseURL string) *AmazonAdapter {
	return &AmazonAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Marketplace identifies the upstream this adapter talks to.
func (a *AmazonAdapter) Marketplace() model.Marketplace {
	return model.MarketplaceAmazon
}

// FetchOffer fetches the current offer for a known ASIN.
func (a *AmazonAdapter) FetchOffer(ctx context.Context, externalID string) (model.Offer, error) {
	body, err := doGET(ctx, a.client, a.baseURL+"/products/"+url.PathEscape(externalID))
	if err != nil {
		return model.Offer{}, err
	}

	var wrapped struct {
		Product amazonProduct `json:"product"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return model.Offer{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return normalizeAmazon(wrapped.Product)
}

// SearchOffers returns offers matching a keyword.
func (a *AmazonAdapter) SearchOffers(ctx context.Context, keyword string) ([]model.Offer, error) {
	u := a.baseURL + "/products/search?q=" + url.QueryEscape(strings.TrimSpace(keyword))
	body, err := doGET(ctx, a.client, u)
	if err != nil {
		return nil, err
	}

	var resp amazonSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	offers := make([]model.Offer, 0, len(resp.Results))
	for _, p := range resp.Results {
		offer, err := normalizeAmazon(p)
		if err != nil {
			continue // skip unparseable results, keep the rest
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

func normalizeAmazon(p amazonProduct) (model.Offer, error) {
	if strings.TrimSpace(p.ASIN) == "" || p.Price == nil || p.Price.Amount <= 0 {
		return model.Offer{}, fmt.Errorf("%w: missing asin or price", ErrMalformed)
	}
	return model.Offer{
		ExternalID: p.ASIN,
		Price:      p.Price.Amount,
		Currency:   p.Price.Currency,
		Available:  strings.EqualFold(p.Availability, "IN_STOCK"),
	}, nil
}
