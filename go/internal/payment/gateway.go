package payment

import (
	"context"
	"errors"
)

var (
	ErrNoProvider        = errors.New("no wallet provider available")
	ErrUnknownWallet     = errors.New("unknown wallet")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidBatch      = errors.New("addresses and amounts differ in length")
)

// Wallet is the identity and balance returned by a wallet connection.
type Wallet struct {
	Address string  `json:"address"`
	Balance float64 `json:"balance"`
}

// Receipt reports the outcome of a charge or a disbursement.
type Receipt struct {
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash"`
}

// Gateway is the wallet and payment provider the session charges and pays out through.
// Every call may suspend until the provider answers; callers bound it with ctx.
type Gateway interface {
	Connect(ctx context.Context) (Wallet, error)
	ChargeEntryFee(ctx context.Context, address string, amount float64) (Receipt, error)
	Disburse(ctx context.Context, addresses []string, amounts []float64) (Receipt, error)
}
