package currency

import (
	"context"
	"errors"
	"math"
	"testing"
)

type stubFetcher struct {
	rates map[string]float64
	err   error
}

func (s *stubFetcher) FetchRates(ctx context.Context) (map[string]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rates, nil
}

func TestConvert_IdentityIsExact(t *testing.T) {
	svc := NewService(nil)
	got, err := svc.Convert(123.45, "NGN", "NGN")
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if got != 123.45 {
		t.Fatalf("expected identity conversion, got %f", got)
	}
}

func TestConvert_RoundTripStaysWithinHalfPercent(t *testing.T) {
	svc := NewService(nil)
	pairs := [][2]string{{"USD", "NGN"}, {"NGN", "KES"}, {"GHS", "UGX"}, {"USD", "XOF"}}
	for _, pair := range pairs {
		original := 250.0
		forward, err := svc.Convert(original, pair[0], pair[1])
		if err != nil {
			t.Fatalf("forward conversion %s->%s failed: %v", pair[0], pair[1], err)
		}
		back, err := svc.Convert(forward, pair[1], pair[0])
		if err != nil {
			t.Fatalf("reverse conversion %s->%s failed: %v", pair[1], pair[0], err)
		}
		drift := math.Abs(back-original) / original
		if drift > 0.005 {
			t.Fatalf("round trip %s->%s->%s drifted %.4f%%, want <= 0.5%%", pair[0], pair[1], pair[0], drift*100)
		}
	}
}

func TestConvert_UnknownCurrency(t *testing.T) {
	svc := NewService(nil)
	if _, err := svc.Convert(10, "USD", "ZZZ"); !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestMinorUnit_ZeroDecimalCurrencies(t *testing.T) {
	if got := ToMinorUnit(5000, "UGX"); got != 5000 {
		t.Fatalf("UGX should have no fractional unit, got %d", got)
	}
	if got := ToMinorUnit(12.34, "USD"); got != 1234 {
		t.Fatalf("expected 1234 cents, got %d", got)
	}
	if got := ToMinorUnit(12.345, "USD"); got != 1235 {
		t.Fatalf("expected half-up rounding to 1235, got %d", got)
	}
	if got := FromMinorUnit(1234, "USD"); got != 12.34 {
		t.Fatalf("expected 12.34, got %f", got)
	}
	if got := FromMinorUnit(5000, "RWF"); got != 5000 {
		t.Fatalf("RWF minor unit equals major, got %f", got)
	}
}

func TestForCountry(t *testing.T) {
	if got := ForCountry("NG"); got != "NGN" {
		t.Fatalf("expected NGN for NG, got %s", got)
	}
	if got := ForCountry("cm"); got != "XAF" {
		t.Fatalf("expected XAF for CM, got %s", got)
	}
	if got := ForCountry("FR"); got != "USD" {
		t.Fatalf("expected USD fallback for unmapped country, got %s", got)
	}
}

func TestRefresh_FailureKeepsPreviousTable(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("feed down")}
	svc := NewService(fetcher)

	before, err := svc.Convert(100, "USD", "NGN")
	if err != nil {
		t.Fatalf("seed conversion failed: %v", err)
	}

	if err := svc.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	after, err := svc.Convert(100, "USD", "NGN")
	if err != nil {
		t.Fatalf("conversion after failed refresh errored: %v", err)
	}
	if before != after {
		t.Fatalf("failed refresh should keep the previous table: before=%f after=%f", before, after)
	}
}

func TestRefresh_SuccessReplacesTable(t *testing.T) {
	fetcher := &stubFetcher{rates: map[string]float64{"NGN": 2000, "KES": 150}}
	svc := NewService(fetcher)

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	got, err := svc.Convert(1, "USD", "NGN")
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if got != 2000 {
		t.Fatalf("expected refreshed rate 2000, got %f", got)
	}
	if svc.LastRefreshed().IsZero() {
		t.Fatal("expected LastRefreshed to be set after successful refresh")
	}
}
