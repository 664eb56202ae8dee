package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// SimulatedConfig holds the delays and balances of the simulated provider
type SimulatedConfig struct {
	Enabled       bool
	ChargeDelay   time.Duration
	DisburseDelay time.Duration
	MinBalance    float64
	MaxBalance    float64
}

// DefaultSimulatedConfig returns the reference wallet behaviour
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		Enabled:       true,
		ChargeDelay:   2 * time.Second,
		DisburseDelay: 3 * time.Second,
		MinBalance:    5,
		MaxBalance:    15,
	}
}

// SimulatedGateway keeps wallets in memory and answers after fixed delays.
type SimulatedGateway struct {
	config SimulatedConfig
	clock  clockwork.Clock

	mu      sync.Mutex
	rng     *mathrand.Rand
	wallets map[string]decimal.Decimal
}

// NewSimulatedGateway creates a simulated provider. rng drives connect balances.
func NewSimulatedGateway(config SimulatedConfig, clock clockwork.Clock, rng *mathrand.Rand) *SimulatedGateway {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if rng == nil {
		rng = mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	}
	return &SimulatedGateway{
		config:  config,
		clock:   clock,
		rng:     rng,
		wallets: make(map[string]decimal.Decimal),
	}
}

func (g *SimulatedGateway) Connect(ctx context.Context) (Wallet, error) {
	if !g.config.Enabled {
		return Wallet{}, ErrNoProvider
	}
	if err := ctx.Err(); err != nil {
		return Wallet{}, err
	}

	address := "0x" + randomHex(20)

	g.mu.Lock()
	spread := g.config.MaxBalance - g.config.MinBalance
	balance := decimal.NewFromFloat(g.config.MinBalance + g.rng.Float64()*spread)
	g.wallets[address] = balance
	g.mu.Unlock()

	log.Info().Str("address", address).Str("balance", balance.StringFixed(3)).Msg("wallet connected")
	return Wallet{Address: address, Balance: balance.InexactFloat64()}, nil
}

func (g *SimulatedGateway) ChargeEntryFee(ctx context.Context, address string, amount float64) (Receipt, error) {
	if !g.config.Enabled {
		return Receipt{}, ErrNoProvider
	}
	if err := g.wait(ctx, g.config.ChargeDelay); err != nil {
		return Receipt{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	balance, ok := g.wallets[address]
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s", ErrUnknownWallet, address)
	}
	fee := decimal.NewFromFloat(amount)
	if balance.LessThan(fee) {
		return Receipt{Success: false}, ErrInsufficientFunds
	}
	g.wallets[address] = balance.Sub(fee)

	receipt := Receipt{Success: true, TxHash: "0x" + randomHex(32)}
	log.Info().
		Str("address", address).
		Float64("amount", amount).
		Str("tx_hash", receipt.TxHash).
		Msg("entry fee charged")
	return receipt, nil
}

func (g *SimulatedGateway) Disburse(ctx context.Context, addresses []string, amounts []float64) (Receipt, error) {
	if !g.config.Enabled {
		return Receipt{}, ErrNoProvider
	}
	if len(addresses) != len(amounts) {
		return Receipt{}, ErrInvalidBatch
	}
	if err := g.wait(ctx, g.config.DisburseDelay); err != nil {
		return Receipt{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for i, address := range addresses {
		// Payouts to wallets this provider never saw are still accepted.
		g.wallets[address] = g.wallets[address].Add(decimal.NewFromFloat(amounts[i]))
	}

	receipt := Receipt{Success: true, TxHash: "0x" + randomHex(32)}
	log.Info().
		Int("recipients", len(addresses)).
		Str("tx_hash", receipt.TxHash).
		Msg("prizes disbursed")
	return receipt, nil
}

// Balance returns the tracked balance of a wallet.
func (g *SimulatedGateway) Balance(address string) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.wallets[address]
	return b.InexactFloat64(), ok
}

func (g *SimulatedGateway) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := g.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}
