// Package paymenttest provides a scriptable payment.Gateway for tests.
package paymenttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcdev12/hotpotato/go/internal/payment"
)

// DisburseCall records one Disburse invocation.
type DisburseCall struct {
	Addresses []string
	Amounts   []float64
}

// FakeGateway answers immediately. Balances default to Balance for every new wallet.
type FakeGateway struct {
	mu sync.Mutex

	Balance     float64
	ConnectErr  error
	ChargeErr   error
	ChargeFail  bool // return Success=false without an error
	DisburseErr error

	// ChargeHook runs before a charge is answered, e.g. to block or to mutate state mid-charge.
	ChargeHook func(ctx context.Context, address string)

	connected int
	charges   []string
	disburses []DisburseCall
}

// NewFakeGateway creates a fake whose wallets start with balance.
func NewFakeGateway(balance float64) *FakeGateway {
	return &FakeGateway{Balance: balance}
}

func (f *FakeGateway) Connect(ctx context.Context) (payment.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConnectErr != nil {
		return payment.Wallet{}, f.ConnectErr
	}
	f.connected++
	return payment.Wallet{
		Address: fmt.Sprintf("0x%040d", f.connected),
		Balance: f.Balance,
	}, nil
}

func (f *FakeGateway) ChargeEntryFee(ctx context.Context, address string, amount float64) (payment.Receipt, error) {
	f.mu.Lock()
	hook := f.ChargeHook
	f.mu.Unlock()
	if hook != nil {
		hook(ctx, address)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ChargeErr != nil {
		return payment.Receipt{}, f.ChargeErr
	}
	if f.ChargeFail {
		return payment.Receipt{Success: false}, nil
	}
	f.charges = append(f.charges, address)
	return payment.Receipt{Success: true, TxHash: fmt.Sprintf("0xcharge%d", len(f.charges))}, nil
}

func (f *FakeGateway) Disburse(ctx context.Context, addresses []string, amounts []float64) (payment.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.disburses = append(f.disburses, DisburseCall{
		Addresses: append([]string(nil), addresses...),
		Amounts:   append([]float64(nil), amounts...),
	})
	if f.DisburseErr != nil {
		return payment.Receipt{}, f.DisburseErr
	}
	return payment.Receipt{Success: true, TxHash: "0xpayout"}, nil
}

// Charges returns the addresses charged so far.
func (f *FakeGateway) Charges() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.charges...)
}

// Disbursements returns every recorded Disburse call.
func (f *FakeGateway) Disbursements() []DisburseCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DisburseCall(nil), f.disburses...)
}
