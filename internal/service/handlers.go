package service

import (
	"context"
	"fmt"

	"github.com/richardliu001/ledger-service/internal/lock"
	"github.com/richardliu001/ledger-service/internal/model"
	"github.com/richardliu001/ledger-service/internal/repo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// apply performs the balance mutation and journal posting of a PENDING
// record inside tx and returns the accounts to save.
func (e *Engine) apply(ctx context.Context, tx *gorm.DB, t *model.Transaction, seed *accountSeed) ([]*model.Account, error) {
	switch t.Type {
	case model.TxnEarn, model.TxnCredit:
		return e.applyCredit(ctx, tx, t, seed, true)
	case model.TxnDebit:
		return e.applyDebit(ctx, tx, t, true)
	case model.TxnHold:
		return e.applyHold(ctx, tx, t)
	case model.TxnCapture:
		return e.applyCapture(ctx, tx, t)
	case model.TxnRelease:
		return e.applyRelease(ctx, tx, t)
	case model.TxnTransfer:
		return e.applyTransfer(ctx, tx, t)
	case model.TxnRefund:
		return e.applyRefund(ctx, tx, t)
	case model.TxnAdjustment:
		if t.Direction == model.SideCredit {
			return e.applyCredit(ctx, tx, t, seed, e.opts.Adjustments == AdjustRouted)
		}
		return e.applyDebit(ctx, tx, t, e.opts.Adjustments == AdjustRouted)
	}
	return nil, fmt.Errorf("%w: unsupported type %s", model.ErrInvalidStateTransition, t.Type)
}

// lockAccounts row-locks ids in the same canonical order the keyed locker
// uses. Accounts with a seed are created on first use.
func (e *Engine) lockAccounts(ctx context.Context, tx *gorm.DB, ids []string, seeds map[string]*model.Account) (map[string]*model.Account, error) {
	out := make(map[string]*model.Account, len(ids))
	for _, id := range lock.Canonical(ids) {
		var (
			a   *model.Account
			err error
		)
		switch {
		case id == e.opts.SystemAccountID:
			a, err = e.accounts.GetOrCreate(ctx, tx, e.systemSeed())
		case id == e.opts.PlatformAccountID:
			a, err = e.accounts.GetOrCreate(ctx, tx, e.platformSeed())
		case seeds[id] != nil:
			a, err = e.accounts.GetOrCreate(ctx, tx, seeds[id])
		default:
			a, err = e.accounts.LockAndLoad(ctx, tx, id)
		}
		if err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}

func (e *Engine) userSeed(accountID string, seed *accountSeed) *model.Account {
	a := &model.Account{
		AccountID:   accountID,
		OwnerID:     accountID,
		AccountType: model.AccountUser,
		Currency:    e.opts.Currency,
	}
	if seed != nil {
		if seed.ownerID != "" {
			a.OwnerID = seed.ownerID
		}
		if seed.typ != "" {
			a.AccountType = seed.typ
		}
	}
	return a
}

func requireActive(accts ...*model.Account) error {
	for _, a := range accts {
		if !a.Active {
			return fmt.Errorf("%w: %s", model.ErrAccountInactive, a.AccountID)
		}
	}
	return nil
}

// moveAvailable debits from's available balance and credits to's, posting
// the matching pair.
func (e *Engine) moveAvailable(ctx context.Context, tx *gorm.DB, t *model.Transaction, from, to *model.Account) error {
	fromBefore := from.BalanceAvailable
	if err := from.Debit(t.Amount); err != nil {
		return err
	}
	toBefore := to.BalanceAvailable
	to.Credit(t.Amount)
	_, err := e.ledger.PostPair(ctx, tx, t.TransactionID,
		leg(from.AccountID, model.BucketAvailable, t, fromBefore, from.BalanceAvailable),
		leg(to.AccountID, model.BucketAvailable, t, toBefore, to.BalanceAvailable))
	return err
}

func leg(accountID string, b model.Bucket, t *model.Transaction, before, after decimal.Decimal) repo.Leg {
	desc := t.Description
	if desc == "" {
		desc = string(t.Type)
	}
	return repo.Leg{
		AccountID:     accountID,
		Bucket:        b,
		Amount:        t.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   desc,
	}
}

// applyCredit funds the account from the system float. EARN and CREDIT
// open the account if needed.
func (e *Engine) applyCredit(ctx context.Context, tx *gorm.DB, t *model.Transaction, seed *accountSeed, checkActive bool) ([]*model.Account, error) {
	sys := e.opts.SystemAccountID
	accts, err := e.lockAccounts(ctx, tx, []string{t.AccountID, sys},
		map[string]*model.Account{t.AccountID: e.userSeed(t.AccountID, seed)})
	if err != nil {
		return nil, err
	}
	x, s := accts[t.AccountID], accts[sys]
	if checkActive {
		if err := requireActive(x); err != nil {
			return nil, err
		}
	}
	if err := e.moveAvailable(ctx, tx, t, s, x); err != nil {
		return nil, err
	}
	return []*model.Account{x, s}, nil
}

func (e *Engine) applyDebit(ctx context.Context, tx *gorm.DB, t *model.Transaction, checkActive bool) ([]*model.Account, error) {
	sys := e.opts.SystemAccountID
	accts, err := e.lockAccounts(ctx, tx, []string{t.AccountID, sys}, nil)
	if err != nil {
		return nil, err
	}
	x, s := accts[t.AccountID], accts[sys]
	if checkActive {
		if err := requireActive(x); err != nil {
			return nil, err
		}
	}
	if err := e.moveAvailable(ctx, tx, t, x, s); err != nil {
		return nil, err
	}
	return []*model.Account{x, s}, nil
}

func (e *Engine) applyTransfer(ctx context.Context, tx *gorm.DB, t *model.Transaction) ([]*model.Account, error) {
	to := deref(t.CounterpartyAccountID)
	// the source has to exist already; the destination may be opened here
	accts, err := e.lockAccounts(ctx, tx, []string{t.AccountID, to},
		map[string]*model.Account{to: e.userSeed(to, nil)})
	if err != nil {
		return nil, err
	}
	x, y := accts[t.AccountID], accts[to]
	if err := requireActive(x, y); err != nil {
		return nil, err
	}
	if err := e.moveAvailable(ctx, tx, t, x, y); err != nil {
		return nil, err
	}
	return []*model.Account{x, y}, nil
}

// applyHold moves funds from available to reserved on one account.
func (e *Engine) applyHold(ctx context.Context, tx *gorm.DB, t *model.Transaction) ([]*model.Account, error) {
	accts, err := e.lockAccounts(ctx, tx, []string{t.AccountID}, nil)
	if err != nil {
		return nil, err
	}
	x := accts[t.AccountID]
	if err := requireActive(x); err != nil {
		return nil, err
	}
	availBefore, reservedBefore := x.BalanceAvailable, x.BalanceReserved
	if err := x.HoldFunds(t.Amount); err != nil {
		return nil, err
	}
	_, err = e.ledger.PostPair(ctx, tx, t.TransactionID,
		leg(x.AccountID, model.BucketAvailable, t, availBefore, x.BalanceAvailable),
		leg(x.AccountID, model.BucketReserved, t, reservedBefore, x.BalanceReserved))
	if err != nil {
		return nil, err
	}
	return []*model.Account{x}, nil
}

// lockHold locks the hold a CAPTURE or RELEASE points at and checks it can
// still be settled.
func (e *Engine) lockHold(ctx context.Context, tx *gorm.DB, t *model.Transaction) (*model.Transaction, error) {
	hold, err := e.txns.LockByID(ctx, tx, deref(t.HoldTransactionID))
	if err != nil {
		return nil, err
	}
	if hold.Type != model.TxnHold {
		return nil, fmt.Errorf("%w: %s is a %s, not a hold", model.ErrInvalidStateTransition, hold.TransactionID, hold.Type)
	}
	if hold.Status != model.StatusHeld {
		return nil, fmt.Errorf("%w: hold %s is %s", model.ErrInvalidStateTransition, hold.TransactionID, hold.Status)
	}
	return hold, nil
}

func (e *Engine) settleHold(ctx context.Context, tx *gorm.DB, hold *model.Transaction, to model.TransactionStatus) error {
	if err := e.txns.Transition(ctx, tx, hold, to, nil); err != nil {
		return err
	}
	return e.emit(ctx, tx, hold)
}

// applyCapture moves the whole reserved amount of a live hold to the
// destination account.
func (e *Engine) applyCapture(ctx context.Context, tx *gorm.DB, t *model.Transaction) ([]*model.Account, error) {
	hold, err := e.lockHold(ctx, tx, t)
	if err != nil {
		return nil, err
	}
	if !hold.HoldActive(e.now()) {
		return nil, fmt.Errorf("%w: hold %s expired at %s", model.ErrInvalidStateTransition,
			hold.TransactionID, hold.HoldExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	if !t.Amount.Equal(hold.Amount) {
		return nil, fmt.Errorf("%w: capture of %s does not match hold amount %s", model.ErrInvalidStateTransition,
			t.Amount.StringFixed(e.opts.Scale), hold.Amount.StringFixed(e.opts.Scale))
	}
	dest := deref(t.CounterpartyAccountID)
	accts, err := e.lockAccounts(ctx, tx, []string{hold.AccountID, dest},
		map[string]*model.Account{dest: e.userSeed(dest, nil)})
	if err != nil {
		return nil, err
	}
	x, y := accts[hold.AccountID], accts[dest]
	if err := requireActive(y); err != nil {
		return nil, err
	}
	reservedBefore := x.BalanceReserved
	if err := x.CaptureHold(t.Amount); err != nil {
		return nil, err
	}
	availBefore := y.BalanceAvailable
	y.Credit(t.Amount)
	_, err = e.ledger.PostPair(ctx, tx, t.TransactionID,
		leg(x.AccountID, model.BucketReserved, t, reservedBefore, x.BalanceReserved),
		leg(y.AccountID, model.BucketAvailable, t, availBefore, y.BalanceAvailable))
	if err != nil {
		return nil, err
	}
	if err := e.settleHold(ctx, tx, hold, model.StatusCaptured); err != nil {
		return nil, err
	}
	return []*model.Account{x, y}, nil
}

// applyRelease returns reserved funds to available. Releases issued by the
// expiry sweep end the hold as EXPIRED instead of RELEASED.
func (e *Engine) applyRelease(ctx context.Context, tx *gorm.DB, t *model.Transaction) ([]*model.Account, error) {
	hold, err := e.lockHold(ctx, tx, t)
	if err != nil {
		return nil, err
	}
	target := model.StatusReleased
	if t.Key() == expiryKey(hold.TransactionID) {
		if hold.HoldActive(e.now()) {
			return nil, fmt.Errorf("%w: hold %s has not expired", model.ErrInvalidStateTransition, hold.TransactionID)
		}
		target = model.StatusExpired
	}
	accts, err := e.lockAccounts(ctx, tx, []string{hold.AccountID}, nil)
	if err != nil {
		return nil, err
	}
	x := accts[hold.AccountID]
	reservedBefore, availBefore := x.BalanceReserved, x.BalanceAvailable
	if err := x.ReleaseHold(hold.Amount); err != nil {
		return nil, err
	}
	_, err = e.ledger.PostPair(ctx, tx, t.TransactionID,
		leg(x.AccountID, model.BucketReserved, t, reservedBefore, x.BalanceReserved),
		leg(x.AccountID, model.BucketAvailable, t, availBefore, x.BalanceAvailable))
	if err != nil {
		return nil, err
	}
	if err := e.settleHold(ctx, tx, hold, target); err != nil {
		return nil, err
	}
	return []*model.Account{x}, nil
}

// applyRefund sends value back from whoever received it in the parent
// transaction. Refunds of one parent never sum past its amount.
func (e *Engine) applyRefund(ctx context.Context, tx *gorm.DB, t *model.Transaction) ([]*model.Account, error) {
	parent, err := e.txns.LockByID(ctx, tx, deref(t.ParentTransactionID))
	if err != nil {
		return nil, err
	}
	switch parent.Type {
	case model.TxnDebit, model.TxnTransfer, model.TxnCapture:
	default:
		return nil, fmt.Errorf("%w: %s transactions cannot be refunded", model.ErrInvalidStateTransition, parent.Type)
	}
	if parent.Status != model.StatusCompleted {
		return nil, fmt.Errorf("%w: parent %s is %s", model.ErrInvalidStateTransition, parent.TransactionID, parent.Status)
	}
	refunded, err := e.txns.RefundedTotal(ctx, tx, parent.TransactionID)
	if err != nil {
		return nil, err
	}
	if refunded.Add(t.Amount).GreaterThan(parent.Amount) {
		return nil, fmt.Errorf("%w: refund of %s exceeds remaining %s on %s", model.ErrInvalidStateTransition,
			t.Amount.StringFixed(e.opts.Scale), parent.Amount.Sub(refunded).StringFixed(e.opts.Scale), parent.TransactionID)
	}
	payer, payee := parent.AccountID, deref(parent.CounterpartyAccountID)
	accts, err := e.lockAccounts(ctx, tx, []string{payer, payee}, nil)
	if err != nil {
		return nil, err
	}
	x, y := accts[payer], accts[payee]
	if err := requireActive(x); err != nil {
		return nil, err
	}
	if err := e.moveAvailable(ctx, tx, t, y, x); err != nil {
		return nil, err
	}
	return []*model.Account{x, y}, nil
}
