package ticker

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// maxStep bounds a single random walk move to +/- 0.5%.
var maxStep = decimal.NewFromFloat(0.005)

// SimulatedSource produces a random walk per symbol starting from the seeded prices.
type SimulatedSource struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	rng    *rand.Rand
	now    func() time.Time
}

// NewSimulatedSource starts the walk at initial. A nil rng uses a time seeded generator.
func NewSimulatedSource(initial map[string]decimal.Decimal, rng *rand.Rand) *SimulatedSource {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	prices := make(map[string]decimal.Decimal, len(initial))
	for s, p := range initial {
		prices[s] = p
	}
	return &SimulatedSource{
		prices: prices,
		rng:    rng,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// FetchPrices moves every requested symbol one step and returns the new prices.
// Unknown symbols are left out.
func (s *SimulatedSource) FetchPrices(ctx context.Context, symbols []string) (map[string]Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	quotes := make(map[string]Quote, len(symbols))
	for _, symbol := range symbols {
		old, ok := s.prices[symbol]
		if !ok {
			continue
		}
		// uniform in [-maxStep, +maxStep)
		change := decimal.NewFromFloat(s.rng.Float64()*2 - 1).Mul(maxStep)
		next := old.Mul(decimal.NewFromInt(1).Add(change)).Round(8)
		if !next.IsPositive() {
			next = old
		}
		s.prices[symbol] = next

		quotes[symbol] = Quote{
			Price:     next,
			Volume24h: decimal.NewFromFloat(s.rng.Float64() * 1000).Round(4),
			Timestamp: now,
		}
	}
	return quotes, nil
}
