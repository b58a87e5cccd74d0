package ledger

import (
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperr"
	"github.com/user/papertrade/backend/internal/models"
)

// The helpers below mutate p in place and return an error before touching
// anything when the operation cannot be applied in full.

func lockAsset(p *models.Portfolio, asset string, qty decimal.Decimal) error {
	bal := p.Asset(asset)
	if bal.Available.LessThan(qty) {
		return apperr.InsufficientFunds("insufficient %s: available %s, required %s", asset, bal.Available, qty)
	}
	bal.Available = bal.Available.Sub(qty)
	bal.Locked = bal.Locked.Add(qty)
	p.Assets[asset] = bal
	return nil
}

func unlockAsset(p *models.Portfolio, asset string, qty decimal.Decimal) error {
	bal := p.Asset(asset)
	if bal.Locked.LessThan(qty) {
		return apperr.InvariantViolation("unlock %s %s exceeds locked %s", qty, asset, bal.Locked)
	}
	bal.Locked = bal.Locked.Sub(qty)
	bal.Available = bal.Available.Add(qty)
	p.Assets[asset] = bal
	return nil
}

func settleAssets(p *models.Portfolio, debitAsset string, debitQty decimal.Decimal, creditAsset string, creditQty decimal.Decimal) error {
	debit := p.Asset(debitAsset)
	if debit.Locked.LessThan(debitQty) {
		return apperr.InvariantViolation("settle debit %s %s exceeds locked %s", debitQty, debitAsset, debit.Locked)
	}
	debit.Locked = debit.Locked.Sub(debitQty)
	p.Assets[debitAsset] = debit

	credit := p.Asset(creditAsset)
	credit.Available = credit.Available.Add(creditQty)
	p.Assets[creditAsset] = credit
	return nil
}

func transferBetween(b *models.AccountBalances, from, to string, amount decimal.Decimal) error {
	src, ok := b.Get(from)
	if !ok {
		return apperr.Validation("unknown account %q", from)
	}
	dst, ok := b.Get(to)
	if !ok {
		return apperr.Validation("unknown account %q", to)
	}
	if src.LessThan(amount) {
		return apperr.InsufficientFunds("insufficient %s balance: available %s, required %s", from, src, amount)
	}
	b.Set(from, src.Sub(amount))
	b.Set(to, dst.Add(amount))
	return nil
}

func requirePositive(name string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return apperr.Validation("%s must be positive, got %s", name, v)
	}
	return nil
}
