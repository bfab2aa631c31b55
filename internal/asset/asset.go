package asset

import (
	"errors"
	"fmt"
)

// Address identifies a holder of funds: a user, the vault, or a pool.
type Address string

// ZeroAddress is the invalid empty address, rejected before any state read.
const ZeroAddress Address = ""

var (
	ErrZeroAddress       = errors.New("zero address")
	ErrInsufficientFunds = errors.New("insufficient token balance")
	ErrUnknownAsset      = errors.New("unknown asset")
)

// Token is the asset-transfer collaborator. Implementations may skim a fee
// during transfer or report success without delivering the nominal amount, so
// callers that care about the delivered amount must measure balance deltas
// rather than trust the transfer arguments.
type Token interface {
	Symbol() string
	Decimals() uint8
	BalanceOf(holder Address) uint64
	Transfer(from, to Address, amount uint64) error
}

// Registry resolves asset symbols to tokens.
type Registry struct {
	tokens map[string]Token
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[string]Token)}
}

func (r *Registry) Register(t Token) {
	r.tokens[t.Symbol()] = t
}

// Resolve returns the token for a symbol.
func (r *Registry) Resolve(symbol string) (Token, error) {
	t, ok := r.tokens[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return t, nil
}

func (r *Registry) Symbols() []string {
	symbols := make([]string, 0, len(r.tokens))
	for s := range r.tokens {
		symbols = append(symbols, s)
	}
	return symbols
}
