package ginserver

import (
	"net/http"

	gin "github.com/gin-gonic/gin"

	"estancias/internal/app/changeorder"
	domainbooking "estancias/internal/domain/booking"
)

type ChangeHandler struct {
	Service *changeorder.Service
}

func (h ChangeHandler) Quote(c *gin.Context) {
	checkIn, err := parseDate(c.Query("check_in"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid check_in"})
		return
	}
	checkOut, err := parseDate(c.Query("check_out"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid check_out"})
		return
	}
	quote, err := h.Service.QuoteChange(c.Request.Context(), domainbooking.BookingID(c.Param("id")), checkIn, checkOut)
	if err != nil {
		respondError(c, err)
		return
	}
	if !quote.OK {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "reason": quote.Reason})
		return
	}
	c.JSON(http.StatusOK, changeQuoteJSON(quote))
}

type applyChangeRequest struct {
	CheckIn  string `json:"check_in"`
	CheckOut string `json:"check_out"`
	ActorID  string `json:"actor_id"`
}

func (h ChangeHandler) Apply(c *gin.Context) {
	var req applyChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	checkIn, err := parseDate(req.CheckIn)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid check_in"})
		return
	}
	checkOut, err := parseDate(req.CheckOut)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid check_out"})
		return
	}
	result, err := h.Service.ApplyChange(c.Request.Context(), domainbooking.BookingID(c.Param("id")), checkIn, checkOut, req.ActorID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !result.OK {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "reason": result.Reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"change_log_id": result.ChangeLogID,
		"checkout_url":  result.CheckoutURL,
		"refund_queued": result.RefundQueued,
		"quote":         changeQuoteJSON(result.Quote),
	})
}

func changeQuoteJSON(q changeorder.Quote) gin.H {
	return gin.H{
		"ok":                   true,
		"check_in":             q.NewRange.CheckIn,
		"check_out":            q.NewRange.CheckOut,
		"nights":               q.Nights,
		"new_total_cents":      q.NewTotal.Cents,
		"paid_deposit_cents":   q.PaidDeposit.Cents,
		"deposit_target_cents": q.DepositTarget.Cents,
		"deposit_topup_cents":  q.DepositTopup.Cents,
		"deposit_refund_cents": q.DepositRefund.Cents,
		"next_balance_cents":   q.NextBalance.Cents,
		"currency":             q.NewTotal.Currency,
	}
}

var _ ChangeHTTP = ChangeHandler{}
