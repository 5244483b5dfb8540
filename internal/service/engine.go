package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/richardliu001/ledger-service/internal/lock"
	"github.com/richardliu001/ledger-service/internal/metrics"
	"github.com/richardliu001/ledger-service/internal/model"
	"github.com/richardliu001/ledger-service/internal/repo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Deps are the collaborators of an Engine. Nil repositories, locker,
// metrics and logger fall back to the defaults.
type Deps struct {
	Store        *repo.Store
	Accounts     repo.AccountRepository
	Transactions repo.TransactionRepository
	Ledger       repo.LedgerRepository
	Outbox       repo.OutboxRepository
	Cache        *repo.BalanceCache
	Locker       lock.Locker
	Metrics      *metrics.Metrics
	Log          *zap.SugaredLogger
	Clock        func() time.Time
}

// Engine is the only writer of accounts, journal entries and transaction
// records. Every balance-changing command goes through Submit.
type Engine struct {
	store    *repo.Store
	accounts repo.AccountRepository
	txns     repo.TransactionRepository
	ledger   repo.LedgerRepository
	outbox   repo.OutboxRepository
	cache    *repo.BalanceCache
	locker   lock.Locker
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
	now      func() time.Time
	validate *validator.Validate
	opts     Options
}

func NewEngine(d Deps, opts Options) *Engine {
	if d.Accounts == nil {
		d.Accounts = repo.NewAccountRepo()
	}
	if d.Transactions == nil {
		d.Transactions = repo.NewTransactionRepo()
	}
	if d.Ledger == nil {
		d.Ledger = repo.NewLedgerRepo()
	}
	if d.Outbox == nil {
		d.Outbox = repo.NewOutboxRepo()
	}
	if d.Locker == nil {
		d.Locker = lock.NewMemoryLocker(5 * time.Second)
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop()
	}
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:    d.Store,
		accounts: d.Accounts,
		txns:     d.Transactions,
		ledger:   d.Ledger,
		outbox:   d.Outbox,
		cache:    d.Cache,
		locker:   d.Locker,
		metrics:  d.Metrics,
		log:      d.Log,
		now:      d.Clock,
		validate: newValidator(),
		opts:     opts,
	}
}

// Options returns the profile the engine runs.
func (e *Engine) Options() Options { return e.opts }

// Bootstrap creates the system float and platform reserve accounts if
// they do not exist yet.
func (e *Engine) Bootstrap(ctx context.Context) error {
	release, err := e.locker.Acquire(ctx, e.opts.SystemAccountID, e.opts.PlatformAccountID)
	if err != nil {
		return err
	}
	defer release()
	return e.store.Transaction(ctx, func(tx *gorm.DB) error {
		for _, seed := range []*model.Account{e.systemSeed(), e.platformSeed()} {
			if _, err := e.accounts.GetOrCreate(ctx, tx, seed); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) systemSeed() *model.Account {
	return &model.Account{
		AccountID:        e.opts.SystemAccountID,
		OwnerID:          e.opts.SystemAccountID,
		AccountType:      model.AccountSystem,
		Currency:         e.opts.Currency,
		BalanceAvailable: e.opts.SystemFloat,
		OpeningBalance:   e.opts.SystemFloat,
	}
}

func (e *Engine) platformSeed() *model.Account {
	return &model.Account{
		AccountID:   e.opts.PlatformAccountID,
		OwnerID:     e.opts.PlatformAccountID,
		AccountType: model.AccountPlatform,
		Currency:    e.opts.Currency,
	}
}

// accountSeed describes an account a command may open implicitly.
type accountSeed struct {
	ownerID string
	typ     model.AccountType
}

// Submit executes cmd at most once per idempotency key. A domain failure
// returns both the FAILED projection and the error. ErrPersistenceConflict
// leaves the record PENDING; resubmitting the same command resumes it.
func (e *Engine) Submit(ctx context.Context, cmd Command) (*Result, error) {
	cmd, err := e.normalize(cmd)
	if err != nil {
		e.metrics.ObserveCommand(commandLabel(cmd.Type), "REJECTED")
		return nil, err
	}
	t, replayed, err := e.begin(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if replayed {
		e.metrics.ObserveReplay(string(t.Type))
		if settled(t.Status) {
			return project(t, true), replayError(t)
		}
	}
	return e.drive(ctx, t, &accountSeed{ownerID: cmd.OwnerID, typ: cmd.AccountType}, replayed)
}

// commandLabel keeps client-supplied junk out of metric labels.
func commandLabel(typ model.TransactionType) string {
	if !typ.Valid() {
		return "INVALID"
	}
	return string(typ)
}

// Resume re-drives a record left INIT or PENDING by a crash or a lock
// timeout. Settled records are returned as they are.
func (e *Engine) Resume(ctx context.Context, transactionID string) (*Result, error) {
	t, err := e.txns.Get(ctx, e.store.DB(ctx), transactionID)
	if err != nil {
		return nil, err
	}
	if settled(t.Status) {
		return project(t, true), replayError(t)
	}
	return e.drive(ctx, t, nil, true)
}

// ExpireHold releases an expired hold into EXPIRED. The release runs under
// a key derived from the hold so repeated sweeps collapse into one.
func (e *Engine) ExpireHold(ctx context.Context, holdID string) (*Result, error) {
	hold, err := e.reference(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if hold == nil {
		return nil, fmt.Errorf("%w: hold %s", model.ErrTransactionNotFound, holdID)
	}
	// a premature attempt must not burn the expiry key
	if hold.HoldActive(e.now()) {
		return nil, fmt.Errorf("%w: hold %s has not expired", model.ErrInvalidStateTransition, holdID)
	}
	return e.Submit(ctx, Command{
		IdempotencyKey:    expiryKey(holdID),
		Type:              model.TxnRelease,
		HoldTransactionID: holdID,
		Description:       "hold expired",
	})
}

func expiryKey(holdID string) string { return "expire:" + holdID }

// settled reports whether a record is past the point where Submit can still
// move it. HELD counts: the HOLD command itself is done.
func settled(s model.TransactionStatus) bool {
	return s != model.StatusInit && s != model.StatusPending
}

func (e *Engine) drive(ctx context.Context, t *model.Transaction, seed *accountSeed, replayed bool) (*Result, error) {
	if t.Status == model.StatusInit {
		if err := e.txns.Transition(ctx, e.store.DB(ctx), t, model.StatusPending, nil); err != nil {
			if !errors.Is(err, model.ErrInvalidStateTransition) {
				return project(t, replayed), err
			}
			// someone else moved it first
			cur, gerr := e.txns.Get(ctx, e.store.DB(ctx), t.TransactionID)
			if gerr != nil {
				return project(t, replayed), gerr
			}
			if settled(cur.Status) {
				return project(cur, true), replayError(cur)
			}
			t = cur
		}
	}

	keys, err := e.lockKeys(t)
	if err != nil {
		return e.fail(ctx, t, err)
	}
	start := time.Now()
	release, err := e.locker.Acquire(ctx, keys...)
	e.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		e.log.Warnw("account locks busy, transaction left pending",
			"transaction_id", t.TransactionID, "accounts", keys, "error", err)
		return project(t, replayed), err
	}
	defer release()

	var (
		done     *model.Transaction
		touched  []*model.Account
		finished bool
	)
	err = e.store.Transaction(ctx, func(tx *gorm.DB) error {
		cur, err := e.txns.LockByID(ctx, tx, t.TransactionID)
		if err != nil {
			return err
		}
		if cur.Status != model.StatusPending {
			done, finished = cur, true
			return nil
		}
		touched, err = e.apply(ctx, tx, cur, seed)
		if err != nil {
			return err
		}
		for _, a := range touched {
			if err := e.accounts.Save(ctx, tx, a); err != nil {
				return err
			}
		}
		if err := e.txns.Transition(ctx, tx, cur, model.SuccessStatus(cur.Type), nil); err != nil {
			return err
		}
		if err := e.emit(ctx, tx, cur); err != nil {
			return err
		}
		done = cur
		return nil
	})
	switch {
	case err == nil && finished:
		return project(done, true), replayError(done)
	case err == nil:
		e.afterCommit(ctx, done, touched)
		return project(done, replayed), nil
	case model.IsDomainError(err):
		return e.fail(ctx, t, err)
	default:
		e.log.Warnw("transaction left pending", "transaction_id", t.TransactionID, "type", t.Type, "error", err)
		return project(t, replayed), err
	}
}

// lockKeys lists the accounts a record mutates. An empty AccountID means
// the hold or parent it points at did not exist when the record was made.
func (e *Engine) lockKeys(t *model.Transaction) ([]string, error) {
	if t.AccountID == "" {
		switch t.Type {
		case model.TxnCapture, model.TxnRelease:
			return nil, fmt.Errorf("%w: hold %s", model.ErrTransactionNotFound, deref(t.HoldTransactionID))
		case model.TxnRefund:
			return nil, fmt.Errorf("%w: parent %s", model.ErrTransactionNotFound, deref(t.ParentTransactionID))
		}
		return nil, fmt.Errorf("%w: transaction %s has no account", model.ErrValidation, t.TransactionID)
	}
	return lock.Canonical([]string{t.AccountID, deref(t.CounterpartyAccountID)}), nil
}

// fail records cause on the transaction in its own database transaction
// and emits the FAILED event.
func (e *Engine) fail(ctx context.Context, t *model.Transaction, cause error) (*Result, error) {
	reason := cause.Error()
	if len(reason) > 512 {
		reason = reason[:512]
	}
	var (
		done        *model.Transaction
		alreadyDone bool
	)
	err := e.store.Transaction(ctx, func(tx *gorm.DB) error {
		cur, err := e.txns.LockByID(ctx, tx, t.TransactionID)
		if err != nil {
			return err
		}
		if settled(cur.Status) {
			done, alreadyDone = cur, true
			return nil
		}
		fields := map[string]interface{}{
			"failure_reason": reason,
			"failure_code":   model.FailureCode(cause),
		}
		if err := e.txns.Transition(ctx, tx, cur, model.StatusFailed, fields); err != nil {
			return err
		}
		if err := e.emit(ctx, tx, cur); err != nil {
			return err
		}
		done = cur
		return nil
	})
	if err != nil {
		e.log.Errorw("could not record transaction failure",
			"transaction_id", t.TransactionID, "cause", cause, "error", err)
		return project(t, false), cause
	}
	if alreadyDone {
		return project(done, true), replayError(done)
	}
	e.metrics.ObserveCommand(string(done.Type), string(done.Status))
	e.log.Infow("transaction failed",
		"transaction_id", done.TransactionID, "type", done.Type, "account_id", done.AccountID,
		"code", done.FailureCode, "reason", reason)
	return project(done, false), cause
}

func (e *Engine) afterCommit(ctx context.Context, t *model.Transaction, touched []*model.Account) {
	for _, a := range touched {
		if err := e.cache.Put(ctx, a); err != nil {
			e.log.Warnw("balance cache update failed", "account_id", a.AccountID, "error", err)
		}
	}
	e.metrics.ObserveCommand(string(t.Type), string(t.Status))
	e.log.Infow("transaction committed",
		"transaction_id", t.TransactionID, "type", t.Type, "status", t.Status,
		"account_id", t.AccountID, "amount", t.Amount.StringFixed(e.opts.Scale))
}

// emit writes the completion event of t into the outbox inside tx.
func (e *Engine) emit(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	evt := model.CompletionEvent{
		EventID:               uuid.NewString(),
		EventType:             eventType(t.Status),
		TransactionID:         t.TransactionID,
		IdempotencyKey:        t.Key(),
		Type:                  t.Type,
		Status:                t.Status,
		Amount:                t.Amount.StringFixed(e.opts.Scale),
		Direction:             t.Direction,
		Currency:              t.Currency,
		AccountID:             t.AccountID,
		CounterpartyAccountID: deref(t.CounterpartyAccountID),
		HoldTransactionID:     deref(t.HoldTransactionID),
		ParentTransactionID:   deref(t.ParentTransactionID),
		FailureCode:           t.FailureCode,
		FailureReason:         t.FailureReason,
		Timestamp:             e.now(),
		Metadata:              t.Metadata,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return e.outbox.Create(ctx, tx, &model.OutboxEvent{
		EventID:     evt.EventID,
		Topic:       e.opts.EventsTopic,
		AggregateID: t.TransactionID,
		EventType:   evt.EventType,
		Payload:     string(payload),
		Headers: datatypes.JSONMap{
			"transaction_type": string(t.Type),
			"status":           string(t.Status),
			"profile":          e.opts.Profile,
		},
	})
}

func eventType(s model.TransactionStatus) string {
	return "transaction." + string(s)
}

// failureError replays a stored failure with the taxonomy error it was
// recorded under.
type failureError struct {
	kind   error
	reason string
}

func (f *failureError) Error() string { return f.reason }
func (f *failureError) Unwrap() error { return f.kind }

func replayError(t *model.Transaction) error {
	if t.Status != model.StatusFailed {
		return nil
	}
	return &failureError{kind: model.ErrorForCode(t.FailureCode), reason: t.FailureReason}
}
