package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/ledger-service/internal/model"
	"github.com/richardliu001/ledger-service/internal/service"
	"github.com/shopspring/decimal"
)

const idempotencyHeader = "Idempotency-Key"

func RegisterHandlers(r gin.IRouter, engine *service.Engine) {
	v1 := r.Group("/v1")
	{
		v1.POST("/transactions", submitHandler(engine))
		v1.GET("/transactions/:id", transactionHandler(engine))
		v1.GET("/transactions/:id/entries", entriesHandler(engine))
		v1.GET("/transactions/:id/verify", verifyHandler(engine))

		v1.POST("/accounts", openAccountHandler(engine))
		v1.GET("/accounts/:id", accountHandler(engine))
		v1.GET("/accounts/:id/balance", balanceHandler(engine))
		v1.POST("/accounts/:id/deactivate", deactivateHandler(engine))
		v1.GET("/accounts/:id/history", historyHandler(engine))
		v1.GET("/accounts/:id/entries", accountEntriesHandler(engine))
		v1.GET("/accounts/:id/reconcile", reconcileHandler(engine))
	}
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrAccountNotFound), errors.Is(err, model.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInsufficientFunds), errors.Is(err, model.ErrAccountInactive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInvalidStateTransition), errors.Is(err, model.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrPersistenceConflict):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error, body gin.H) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	if body == nil {
		body = gin.H{}
	}
	body["error"] = err.Error()
	body["code"] = model.FailureCode(err)
	c.JSON(status, body)
}

func submitHandler(engine *service.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cmd service.Command
		if err := c.ShouldBindJSON(&cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION"})
			return
		}
		if cmd.IdempotencyKey == "" {
			cmd.IdempotencyKey = c.GetHeader(idempotencyHeader)
		}
		res, err := engine.Submit(c.Request.Context(), cmd)
		if err != nil {
			body := gin.H{}
			if res != nil {
				body["transaction"] = res
			}
			writeError(c, err, body)
			return
		}
		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		c.JSON(status, res)
	}
}

func transactionHandler(engine *service.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := engine.GetTransaction(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func entriesHandler(engine *service.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := engine.Entries(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, entryViews(entries))
	}
}

func verifyHandler(engine *service.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		chk, err := engine.VerifyTransaction(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, chk)
	}
}

func openAccountHandler(engine *service.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.OpenAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION"})
			return
		}
		a, err := engine.OpenAccount(c.Request.Context(), req)
		if err != nil {
			writeError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, accountViewOf(a))
	}
}

func accountHandler(engine *service.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := engine.GetAccount(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, accountViewOf(a))
	}
}

func balanceHandler(engine *service.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		bal, err := engine.GetBalance(c.Request.Context(), id)
		if err != nil {
			writeError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"account_id": id, "available": bal.Available, "reserved": bal.Reserved})
	}
}

func deactivateHandler(engine *service.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := engine.DeactivateAccount(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, accountViewOf(a))
	}
}

// page reads the optional since (RFC3339) and limit query parameters.
func page(c *gin.Context) (time.Time, int, bool) {
	var since time.Time
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since", "code": "VALIDATION"})
			return since, 0, false
		}
		since = t
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit", "code": "VALIDATION"})
		return since, 0, false
	}
	return since, limit, true
}

func historyHandler(engine *service.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		since, limit, ok := page(c)
		if !ok {
			return
		}
		txs, err := engine.History(c.Request.Context(), c.Param("id"), since, limit)
		if err != nil {
			writeError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, txs)
	}
}

func accountEntriesHandler(engine *service.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		since, limit, ok := page(c)
		if !ok {
			return
		}
		entries, err := engine.AccountEntries(c.Request.Context(), c.Param("id"), since, limit)
		if err != nil {
			writeError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, entryViews(entries))
	}
}

func reconcileHandler(engine *service.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := engine.Reconcile(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

type accountView struct {
	AccountID        string            `json:"account_id"`
	OwnerID          string            `json:"owner_id"`
	AccountType      model.AccountType `json:"account_type"`
	Currency         string            `json:"currency"`
	BalanceAvailable decimal.Decimal   `json:"balance_available"`
	BalanceReserved  decimal.Decimal   `json:"balance_reserved"`
	TotalCredited    decimal.Decimal   `json:"total_credited"`
	TotalDebited     decimal.Decimal   `json:"total_debited"`
	Active           bool              `json:"active"`
	Version          uint64            `json:"version"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func accountViewOf(a *model.Account) accountView {
	return accountView{
		AccountID:        a.AccountID,
		OwnerID:          a.OwnerID,
		AccountType:      a.AccountType,
		Currency:         a.Currency,
		BalanceAvailable: a.BalanceAvailable,
		BalanceReserved:  a.BalanceReserved,
		TotalCredited:    a.TotalCredited,
		TotalDebited:     a.TotalDebited,
		Active:           a.Active,
		Version:          a.Version,
		UpdatedAt:        a.UpdatedAt,
	}
}

type entryView struct {
	EntryID       string          `json:"entry_id"`
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Side          model.EntrySide `json:"side"`
	Bucket        model.Bucket    `json:"bucket"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func entryViews(entries []model.LedgerEntry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{
			EntryID:       e.EntryID,
			TransactionID: e.TransactionID,
			AccountID:     e.AccountID,
			Side:          e.Side,
			Bucket:        e.Bucket,
			Amount:        e.Amount,
			BalanceBefore: e.BalanceBefore,
			BalanceAfter:  e.BalanceAfter,
			Description:   e.Description,
			CreatedAt:     e.CreatedAt,
		})
	}
	return out
}
