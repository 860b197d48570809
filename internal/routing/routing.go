/**
 * @description
 * Provider routing policy. Given the payer's country, the requested currency
 * and an optional explicit provider choice, the router produces an ordered
 * list of candidates for the orchestrator to try. Each candidate carries the
 * currency the provider will be charged in and, where the provider supports
 * it, a fallback currency for a second attempt after a currency rejection.
 *
 * Policy:
 *   - Nigeria: Paystack in NGN first, then Stripe. Paystack is never offered
 *     outside Nigeria; an explicit request for it elsewhere is a hard error.
 *   - Mobile-money-native markets (KE, GH, TZ, UG, CM): Flutterwave first,
 *     forced to the local currency, then Stripe.
 *   - Everywhere else: Stripe first, then Flutterwave.
 *   - Stripe and Flutterwave fall back to USD on currency rejection;
 *     Paystack has no fallback.
 */

package routing

import (
	"fmt"
	"strings"

	"github.com/afripatron/payment-service/internal/currency"
)

// Supported provider names.
const (
	ProviderStripe      = "stripe"
	ProviderPaystack    = "paystack"
	ProviderFlutterwave = "flutterwave"
)

// Markets where mobile money is the dominant rail and Flutterwave leads.
var mobileMoneyMarkets = map[string]bool{
	"KE": true,
	"GH": true,
	"TZ": true,
	"UG": true,
	"CM": true,
}

// Candidate is one provider attempt: the provider, the currency to charge in,
// and an optional fallback currency for a retry after a currency rejection.
type Candidate struct {
	Provider         string
	Currency         string
	FallbackCurrency string // empty when the provider has no fallback
}

// InvalidRouteError reports an explicit provider request the policy forbids.
type InvalidRouteError struct {
	Provider string
	Country  string
	Reason   string
}

func (e *InvalidRouteError) Error() string {
	return fmt.Sprintf("provider %s is not available in %s: %s", e.Provider, e.Country, e.Reason)
}

// Router computes the candidate order for a charge.
type Router struct{}

// NewRouter returns a Router.
func NewRouter() *Router {
	return &Router{}
}

// Select returns the ordered candidates for a charge. When explicitProvider is
// set and valid for the country, it is honored as the only candidate; an
// invalid explicit choice is an InvalidRouteError rather than a silent
// redirect to another provider.
func (r *Router) Select(countryCode, requestedCurrency, explicitProvider string) ([]Candidate, error) {
	country := strings.ToUpper(strings.TrimSpace(countryCode))
	requested := strings.ToUpper(strings.TrimSpace(requestedCurrency))
	if requested == "" {
		requested = currency.ForCountry(country)
	}

	if explicit := strings.ToLower(strings.TrimSpace(explicitProvider)); explicit != "" {
		candidate, err := r.explicitCandidate(explicit, country, requested)
		if err != nil {
			return nil, err
		}
		return []Candidate{candidate}, nil
	}

	if country == "NG" {
		return []Candidate{
			{Provider: ProviderPaystack, Currency: "NGN"},
			{Provider: ProviderStripe, Currency: requested, FallbackCurrency: "USD"},
		}, nil
	}

	if mobileMoneyMarkets[country] {
		local := currency.ForCountry(country)
		return []Candidate{
			{Provider: ProviderFlutterwave, Currency: local, FallbackCurrency: "USD"},
			{Provider: ProviderStripe, Currency: requested, FallbackCurrency: "USD"},
		}, nil
	}

	return []Candidate{
		{Provider: ProviderStripe, Currency: requested, FallbackCurrency: "USD"},
		{Provider: ProviderFlutterwave, Currency: requested, FallbackCurrency: "USD"},
	}, nil
}

func (r *Router) explicitCandidate(provider, country, requested string) (Candidate, error) {
	switch provider {
	case ProviderPaystack:
		if country != "NG" {
			return Candidate{}, &InvalidRouteError{Provider: provider, Country: country, Reason: "paystack only serves Nigeria"}
		}
		return Candidate{Provider: ProviderPaystack, Currency: "NGN"}, nil
	case ProviderStripe:
		return Candidate{Provider: ProviderStripe, Currency: requested, FallbackCurrency: "USD"}, nil
	case ProviderFlutterwave:
		chargeCurrency := requested
		if mobileMoneyMarkets[country] {
			// Mobile money collections settle in the local currency only.
			chargeCurrency = currency.ForCountry(country)
		}
		return Candidate{Provider: ProviderFlutterwave, Currency: chargeCurrency, FallbackCurrency: "USD"}, nil
	default:
		return Candidate{}, &InvalidRouteError{Provider: provider, Country: country, Reason: "unknown provider"}
	}
}
