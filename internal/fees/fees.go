/**
 * @description
 * Platform fee computation. The effective fee percent is a read-through cache
 * over the platform_config table, falling back to the configured default when
 * no override is stored. Splits are computed in minor units with flooring, so
 * the platform share never exceeds its exact percentage.
 *
 * @dependencies
 * - internal/store: platform_config reads for the fee override.
 */

package fees

import (
	"context"
	"errors"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/afripatron/payment-service/internal/domain"
	"github.com/afripatron/payment-service/internal/store"
)

// ConfigKeyFeePercent is the platform_config key holding the fee override.
const ConfigKeyFeePercent = "platform_fee_percent"

const cacheTTL = 5 * time.Minute

// Split is the minor-unit breakdown of one charge.
type Split struct {
	PlatformFee     int64
	TaxAmount       int64
	CreatorEarnings int64
	FeePercent      float64
}

// Calculator resolves the effective fee percent and computes splits.
type Calculator struct {
	repo           store.Repository
	defaultPercent float64

	mu        sync.RWMutex
	cached    float64
	cachedAt  time.Time
	hasCached bool
}

// NewCalculator returns a Calculator using the default percent until an
// override is found in platform_config.
func NewCalculator(repo store.Repository, defaultPercent float64) *Calculator {
	return &Calculator{repo: repo, defaultPercent: defaultPercent}
}

// EffectivePercent returns the fee percent currently in force: the stored
// override when present, otherwise the configured default. The database is
// consulted at most once per cache window.
func (c *Calculator) EffectivePercent(ctx context.Context) float64 {
	c.mu.RLock()
	if c.hasCached && time.Since(c.cachedAt) < cacheTTL {
		percent := c.cached
		c.mu.RUnlock()
		return percent
	}
	c.mu.RUnlock()

	percent := c.defaultPercent
	value, err := c.repo.GetPlatformConfig(ctx, ConfigKeyFeePercent)
	switch {
	case err == nil:
		parsed, parseErr := strconv.ParseFloat(value, 64)
		if parseErr != nil || parsed < 0 || parsed > 100 {
			log.Printf("level=warn component=fees msg=\"invalid fee percent override; using default\" value=%q", value)
		} else {
			percent = parsed
		}
	case errors.Is(err, store.ErrConfigNotFound):
		// no override stored
	default:
		log.Printf("level=warn component=fees msg=\"failed to load fee percent override; using default\" err=%v", err)
	}

	c.mu.Lock()
	c.cached = percent
	c.cachedAt = time.Now()
	c.hasCached = true
	c.mu.Unlock()

	return percent
}

// SetPercent stores a new fee override and invalidates the cache. Subsequent
// charges snapshot the new percent; already-initiated intents keep theirs.
func (c *Calculator) SetPercent(ctx context.Context, percent float64) error {
	if percent < 0 || percent > 100 {
		return errors.New("fee percent must be between 0 and 100")
	}
	if err := c.repo.SetPlatformConfig(ctx, ConfigKeyFeePercent, strconv.FormatFloat(percent, 'f', -1, 64)); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Invalidate drops the cached percent so the next read hits the database.
func (c *Calculator) Invalidate() {
	c.mu.Lock()
	c.hasCached = false
	c.mu.Unlock()
}

// ComputeSplit breaks a minor-unit amount into platform fee, tax and creator
// earnings for the given percent snapshot. Platform-only products route the
// full amount to the platform with zero creator payout.
func ComputeSplit(amount int64, productClass string, feePercent, taxRate float64) Split {
	if productClass == domain.ProductClassPlatformOnly {
		return Split{PlatformFee: amount, FeePercent: 100}
	}
	platformFee := int64(math.Floor(float64(amount) * feePercent / 100))
	tax := int64(math.Floor(float64(amount) * taxRate / 100))
	earnings := amount - platformFee - tax
	if earnings < 0 {
		earnings = 0
	}
	return Split{
		PlatformFee:     platformFee,
		TaxAmount:       tax,
		CreatorEarnings: earnings,
		FeePercent:      feePercent,
	}
}
