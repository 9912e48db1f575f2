// Package pricing provides reference prices and symbol support checks over
// a venue client, with short-TTL read-mostly caches so preflight checks do
// not hammer the venue.
package pricing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BrianElionDev/BuyBot/internal/ports"
)

const (
	defaultPriceTTL = 5 * time.Second
)

// Service caches mark prices and resolves coin symbols to venue pairs.
type Service struct {
	exchange ports.ExchangeClient
	logger   ports.Logger
	priceTTL time.Duration

	mu     sync.RWMutex
	prices map[string]cachedPrice
}

type cachedPrice struct {
	price     float64
	fetchedAt time.Time
}

// New creates a pricing service over an exchange client.
func New(exchange ports.ExchangeClient, logger ports.Logger, priceTTL time.Duration) *Service {
	if priceTTL <= 0 {
		priceTTL = defaultPriceTTL
	}
	return &Service{
		exchange: exchange,
		logger:   logger,
		priceTTL: priceTTL,
		prices:   make(map[string]cachedPrice),
	}
}

// Pair resolves a coin symbol to the venue trading pair.
func Pair(coinSymbol string) string {
	return strings.ToUpper(strings.TrimSpace(coinSymbol)) + "USDT"
}

// ResolveSymbol verifies the coin's pair is listed and trading, returning
// the pair and its filters.
func (s *Service) ResolveSymbol(ctx context.Context, coinSymbol string) (string, *ports.SymbolFilters, error) {
	pair := Pair(coinSymbol)
	filters, err := s.exchange.GetSymbolFilters(ctx, pair)
	if err != nil {
		return "", nil, err
	}
	if !filters.IsTrading() {
		return "", nil, fmt.Errorf("pair %s is not trading (status %s): %w", pair, filters.Status, ports.ErrSymbolUnsupported)
	}
	return pair, filters, nil
}

// ReferencePrice returns a recent mark price for the pair, served from
// cache within the TTL. Refresh is single-writer: concurrent misses
// collapse into one venue call.
func (s *Service) ReferencePrice(ctx context.Context, pair string) (float64, error) {
	s.mu.RLock()
	cached, ok := s.prices[pair]
	s.mu.RUnlock()
	if ok && time.Since(cached.fetchedAt) <= s.priceTTL {
		return cached.price, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check after acquiring the write lock.
	if cached, ok := s.prices[pair]; ok && time.Since(cached.fetchedAt) <= s.priceTTL {
		return cached.price, nil
	}

	price, err := s.exchange.GetMarkPrice(ctx, pair)
	if err != nil {
		return 0, err
	}
	s.prices[pair] = cachedPrice{price: price, fetchedAt: time.Now()}
	return price, nil
}

// WithinThreshold reports whether the signal price sits within the
// configured proximity of the market price:
// |signal - market| / market <= threshold.
func WithinThreshold(signalPrice, marketPrice, threshold float64) bool {
	if marketPrice <= 0 {
		return false
	}
	diff := signalPrice - marketPrice
	if diff < 0 {
		diff = -diff
	}
	return diff/marketPrice <= threshold
}
