// Package custody keeps the book-entry balances of underlying tokens held
// on behalf of accounts. Deposits are credited by the operator when funds
// land; the token factory locks and releases them around mints and burns.
package custody

import (
	"errors"
	"math/big"
	"sync"
)

var (
	ErrInvalidAmount     = errors.New("custody: amount must be greater than zero")
	ErrInsufficientFunds = errors.New("custody: insufficient funds")
	errNilState          = errors.New("custody: state not configured")
)

var balancePrefix = []byte("custody/balance/")

type custodyState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type storedFunds struct {
	Amount *big.Int
}

// Ledger tracks per (account, underlying) custody balances.
type Ledger struct {
	mu sync.Mutex
	st custodyState
}

// NewLedger creates a custody ledger backed by the provided state store.
func NewLedger(st custodyState) *Ledger {
	return &Ledger{st: st}
}

// Deposit credits funds that arrived for the account.
func (l *Ledger) Deposit(account, underlying [20]byte, amount *big.Int) error {
	if l == nil || l.st == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.adjust(account, underlying, amount)
}

// Withdraw debits free funds back out of custody.
func (l *Ledger) Withdraw(account, underlying [20]byte, amount *big.Int) error {
	if l == nil || l.st == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.adjust(account, underlying, new(big.Int).Neg(amount))
}

// TransferIn locks the account's free funds into the protocol. It backs
// wrap operations: the debit must succeed before any token is minted.
func (l *Ledger) TransferIn(account, underlying [20]byte, amount *big.Int) error {
	return l.Withdraw(account, underlying, amount)
}

// TransferOut releases protocol-held funds back to the account's free
// balance, backing redemptions and yield payouts.
func (l *Ledger) TransferOut(account, underlying [20]byte, amount *big.Int) error {
	return l.Deposit(account, underlying, amount)
}

// BalanceOf reports the account's free custody balance.
func (l *Ledger) BalanceOf(account, underlying [20]byte) (*big.Int, error) {
	if l == nil || l.st == nil {
		return nil, errNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	funds, err := l.load(account, underlying)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(funds.Amount), nil
}

func (l *Ledger) adjust(account, underlying [20]byte, delta *big.Int) error {
	funds, err := l.load(account, underlying)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(funds.Amount, delta)
	if next.Sign() < 0 {
		return ErrInsufficientFunds
	}
	funds.Amount = next
	return l.st.KVPut(balanceKey(account, underlying), funds)
}

func (l *Ledger) load(account, underlying [20]byte) (*storedFunds, error) {
	funds := new(storedFunds)
	if _, err := l.st.KVGet(balanceKey(account, underlying), funds); err != nil {
		return nil, err
	}
	if funds.Amount == nil {
		funds.Amount = big.NewInt(0)
	}
	return funds, nil
}

func balanceKey(account, underlying [20]byte) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(underlying)+len(account))
	buf = append(buf, balancePrefix...)
	buf = append(buf, underlying[:]...)
	buf = append(buf, account[:]...)
	return buf
}
