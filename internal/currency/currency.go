/**
 * @description
 * Currency conversion and minor-unit handling for the payment-service. Rates
 * are kept in an in-memory table pivoted on USD and refreshed from the
 * external rate feed; a failed refresh keeps serving the last good table.
 *
 * Minor-unit conversion is where most money bugs hide: all arithmetic rounds
 * half-up exactly once, at the final step, and currencies without a fractional
 * unit carry a multiplier of 1.
 *
 * @dependencies
 * - context, math, strings, sync, time: Standard Go libraries.
 * - pkg/fxclient: HTTP client for the external exchange rate feed.
 */

package currency

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"
)

// ErrUnsupportedCurrency is returned for conversion requests involving a
// currency absent from the rate table.
var ErrUnsupportedCurrency = errors.New("unsupported currency")

// Currencies whose minor unit equals the major unit.
var zeroDecimal = map[string]bool{
	"UGX": true,
	"RWF": true,
	"XOF": true,
	"XAF": true,
	"JPY": true,
}

var symbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"NGN": "₦",
	"GHS": "GH₵",
	"KES": "KSh",
	"TZS": "TSh",
	"UGX": "USh",
	"ZAR": "R",
	"XOF": "CFA",
	"XAF": "FCFA",
	"EGP": "E£",
	"JPY": "¥",
}

// Local currency per supported country. Countries absent here transact in USD.
var countryCurrency = map[string]string{
	"NG": "NGN",
	"GH": "GHS",
	"KE": "KES",
	"TZ": "TZS",
	"UG": "UGX",
	"ZA": "ZAR",
	"EG": "EGP",
	"CM": "XAF",
	"SN": "XOF",
	"CI": "XOF",
	"US": "USD",
	"GB": "GBP",
}

// Baseline rates (units per 1 USD) used until the first successful refresh.
var seedRates = map[string]float64{
	"USD": 1,
	"EUR": 0.92,
	"GBP": 0.79,
	"NGN": 1550,
	"GHS": 15.8,
	"KES": 129,
	"TZS": 2650,
	"UGX": 3700,
	"ZAR": 17.9,
	"XOF": 603,
	"XAF": 603,
	"EGP": 48.5,
	"JPY": 147,
}

// RateFetcher fetches the latest USD-pivoted rate table.
type RateFetcher interface {
	FetchRates(ctx context.Context) (map[string]float64, error)
}

// Service converts amounts between supported currencies. Safe for concurrent use.
type Service struct {
	fetcher RateFetcher

	mu        sync.RWMutex
	rates     map[string]float64 // units per 1 USD
	refreshed time.Time
}

// NewService returns a Service seeded with baseline rates. fetcher may be nil,
// in which case the seed table is never refreshed.
func NewService(fetcher RateFetcher) *Service {
	rates := make(map[string]float64, len(seedRates))
	for code, rate := range seedRates {
		rates[code] = rate
	}
	return &Service{fetcher: fetcher, rates: rates}
}

// Supported reports whether a currency is in the rate table.
func (s *Service) Supported(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rates[code]
	return ok
}

// Convert converts a major-unit amount between currencies, pivoting through
// USD. Converting a currency to itself is the identity.
func (s *Service) Convert(amount float64, from, to string) (float64, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return amount, nil
	}

	s.mu.RLock()
	fromRate, fromOK := s.rates[from]
	toRate, toOK := s.rates[to]
	s.mu.RUnlock()

	if !fromOK || !toOK || fromRate == 0 {
		return 0, fmt.Errorf("%w: %s->%s", ErrUnsupportedCurrency, from, to)
	}
	return amount / fromRate * toRate, nil
}

// MinorUnitFactor returns the minor units per major unit for a currency.
func MinorUnitFactor(code string) int64 {
	if zeroDecimal[strings.ToUpper(strings.TrimSpace(code))] {
		return 1
	}
	return 100
}

// ToMinorUnit converts a major-unit amount to minor units, rounding half-up.
func ToMinorUnit(amount float64, code string) int64 {
	return int64(math.Round(amount * float64(MinorUnitFactor(code))))
}

// FromMinorUnit converts minor units back to a major-unit amount.
func FromMinorUnit(minor int64, code string) float64 {
	return float64(minor) / float64(MinorUnitFactor(code))
}

// ForCountry returns the local currency for an ISO country code, defaulting
// to USD for countries without a dedicated entry.
func ForCountry(countryCode string) string {
	if code, ok := countryCurrency[strings.ToUpper(strings.TrimSpace(countryCode))]; ok {
		return code
	}
	return "USD"
}

// Symbol returns the display symbol for a currency, falling back to the code.
func Symbol(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if sym, ok := symbols[code]; ok {
		return sym
	}
	return code
}

// Refresh replaces the rate table from the feed. On failure the previous table
// keeps serving; stale rates beat no rates.
func (s *Service) Refresh(ctx context.Context) error {
	if s.fetcher == nil {
		return nil
	}
	rates, err := s.fetcher.FetchRates(ctx)
	if err != nil {
		log.Printf("level=warn component=currency msg=\"rate refresh failed; keeping previous table\" err=%v", err)
		return err
	}
	rates["USD"] = 1

	s.mu.Lock()
	s.rates = rates
	s.refreshed = time.Now().UTC()
	s.mu.Unlock()

	log.Printf("level=info component=currency msg=\"rate table refreshed\" currencies=%d", len(rates))
	return nil
}

// LastRefreshed returns when the table was last replaced from the feed; zero
// if still on seed rates.
func (s *Service) LastRefreshed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshed
}

// StartRefreshLoop refreshes the table on the given interval until ctx is done.
// It runs in its own goroutine and performs one immediate refresh on start.
func (s *Service) StartRefreshLoop(ctx context.Context, interval time.Duration) {
	go func() {
		refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_ = s.Refresh(refreshCtx)
		cancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				_ = s.Refresh(refreshCtx)
				cancel()
			}
		}
	}()
}
