package ginserver

import (
	"errors"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"estancias/internal/app/charge"
	"estancias/internal/app/commands"
	BookingApp "estancias/internal/app/handlers/booking"
	"estancias/internal/app/lifecycle"
	domainbooking "estancias/internal/domain/booking"
	domainpayment "estancias/internal/domain/payment"
	domainproperty "estancias/internal/domain/property"
	"estancias/internal/domain/shared/daterange"
)

type BookingHandler struct {
	Commands  commands.Bus
	Lifecycle *lifecycle.Service
	Charges   *charge.Orchestrator
}

const dateLayout = "2006-01-02"

// parseDate accepts plain calendar dates or full RFC 3339 timestamps; the
// stay clock (15:00 in / 12:00 out) is applied server-side either way.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func (h BookingHandler) Quote(c *gin.Context) {
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
	quote, err := h.Lifecycle.QuoteStay(c.Request.Context(), domainproperty.PropertyID(c.Param("id")), checkIn, checkOut)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"nights":           quote.Nights,
		"subtotal_cents":   quote.Subtotal.Cents,
		"discount_percent": quote.DiscountPercent,
		"discount_cents":   quote.DiscountAmount.Cents,
		"cleaning_cents":   quote.CleaningFee.Cents,
		"tax_cents":        quote.TaxAmount.Cents,
		"total_cents":      quote.Total.Cents,
		"deposit_cents":    quote.Total.Percent(domainbooking.DepositRatePercent).Cents,
		"currency":         quote.Total.Currency,
	})
}

type createBookingRequest struct {
	PropertyID string `json:"property_id"`
	GuestID    string `json:"guest_id"`
	GuestEmail string `json:"guest_email"`
	CheckIn    string `json:"check_in"`
	CheckOut   string `json:"check_out"`
	PartySize  int    `json:"party_size"`
}

func (h BookingHandler) Create(c *gin.Context) {
	if h.Commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commands unavailable"})
		return
	}
	var req createBookingRequest
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
	cmd := BookingApp.RequestBookingCommand{
		CommandID:       uuid.NewString(),
		PropertyID:      req.PropertyID,
		GuestID:         req.GuestID,
		GuestEmail:      req.GuestEmail,
		CheckIn:         checkIn,
		CheckOut:        checkOut,
		PartySize:       req.PartySize,
		IdempotencyKeyV: c.GetHeader("Idempotency-Key"),
	}
	result, err := commands.Dispatch[BookingApp.RequestBookingCommand, *BookingApp.RequestBookingResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h BookingHandler) Get(c *gin.Context) {
	b, err := h.Lifecycle.GetBooking(c.Request.Context(), domainbooking.BookingID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookingJSON(b))
}

func (h BookingHandler) Checkout(c *gin.Context) {
	info, err := h.Lifecycle.StartCheckout(c.Request.Context(), domainbooking.BookingID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment_id":   string(info.PaymentID),
		"checkout_url": info.CheckoutURL,
		"hold_expires": info.HoldExpires,
	})
}

func (h BookingHandler) Cancel(c *gin.Context) {
	result, err := h.Lifecycle.Cancel(c.Request.Context(), domainbooking.BookingID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	if result.AlreadyCancelled {
		c.JSON(http.StatusOK, gin.H{"already_cancelled": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"already_cancelled": false,
		"window":            string(result.Plan.Window),
		"days_before":       result.Plan.DaysBefore,
		"penalty_cents":     result.Plan.Penalty.Cents,
		"refunds_queued":    len(result.Plan.Refunds),
	})
}

func (h BookingHandler) Remake(c *gin.Context) {
	fresh, err := h.Lifecycle.Remake(c.Request.Context(), domainbooking.BookingID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bookingJSON(fresh))
}

// ChargeBalance retries balance collection on demand, ahead of the
// scheduled attempt. Guests hit this from the payment reminder email.
func (h BookingHandler) ChargeBalance(c *gin.Context) {
	result, err := h.Charges.ChargeBalanceForBooking(c.Request.Context(), domainbooking.BookingID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	body := gin.H{"outcome": string(result.Outcome)}
	if result.PaymentID != "" {
		body["payment_id"] = string(result.PaymentID)
	}
	if result.CheckoutURL != "" {
		body["checkout_url"] = result.CheckoutURL
	}
	if result.Reason != "" {
		body["reason"] = result.Reason
	}
	c.JSON(http.StatusOK, body)
}

func bookingJSON(b *domainbooking.Booking) gin.H {
	return gin.H{
		"booking_id":      string(b.ID),
		"property_id":     string(b.PropertyID),
		"status":          string(b.Status),
		"check_in":        b.Range.CheckIn,
		"check_out":       b.Range.CheckOut,
		"party_size":      b.PartySize,
		"total_cents":     b.TotalAmount.Cents,
		"deposit_cents":   b.DepositAmount.Cents,
		"balance_cents":   b.BalanceDue.Cents,
		"currency":        b.TotalAmount.Currency,
		"hold_expires_at": b.HoldExpiresAt,
	}
}

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domainbooking.ErrNotFound),
		errors.Is(err, domainproperty.ErrNotFound),
		errors.Is(err, domainpayment.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrNotAvailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domainbooking.ErrNotPayable),
		errors.Is(err, domainbooking.ErrAlreadyEnded),
		errors.Is(err, domainbooking.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, daterange.ErrInvalidRange),
		errors.Is(err, domainbooking.ErrInvalidParty):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

var _ BookingHTTP = BookingHandler{}
