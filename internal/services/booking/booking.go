package booking

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/JonasLeetTheWay/campus-events/internal/artifact"
	"github.com/JonasLeetTheWay/campus-events/internal/auth"
	"github.com/JonasLeetTheWay/campus-events/internal/config"
	"github.com/JonasLeetTheWay/campus-events/internal/httpx"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/JonasLeetTheWay/campus-events/internal/observability"
	"github.com/JonasLeetTheWay/campus-events/internal/redis"
	"github.com/JonasLeetTheWay/campus-events/internal/workflow"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	qrSize            = 256
)

type Service struct {
	config      *config.Config
	db          *gorm.DB
	redisClient *redis.Client
	workflow    *workflow.Service
	issuer      *artifact.Issuer
	logger      observability.Logger
}

func NewService(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, wf *workflow.Service, issuer *artifact.Issuer, logger observability.Logger) *Service {
	return &Service{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		workflow:    wf,
		issuer:      issuer,
		logger:      logger.WithField("component", "bookings"),
	}
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	authed := r.Group("", auth.Middleware(s.config, s.db))

	authed.POST("/events/:id/book",
		auth.Require(auth.OpSubmitBooking),
		s.redisClient.RateLimit("book", 20, time.Minute, userKey),
		s.SubmitBooking)
	authed.GET("/events/:id/bookings", auth.Require(auth.OpViewEventBookings), s.EventBookings)

	authed.GET("/my/bookings", s.MyBookings)
	authed.GET("/approvals", auth.Require(auth.OpViewApprovalQueue), s.ApprovalQueue)
	authed.POST("/tickets/verify", auth.Require(auth.OpVerifyTickets), s.VerifyTicket)

	bookings := authed.Group("/bookings/:id")
	{
		bookings.GET("", s.GetBooking)
		bookings.GET("/history", s.BookingHistory)
		bookings.POST("/cancel", s.CancelBooking)
		bookings.POST("/approve", s.ApproveBooking)
		bookings.POST("/reject", s.RejectBooking)
		bookings.GET("/ticket", s.DownloadTicket)
		bookings.GET("/qr", s.QRCode)
		bookings.POST("/resend", s.ResendTicket)
	}
}

func userKey(c *gin.Context) string {
	return strconv.FormatUint(uint64(auth.Current(c).UserID), 10)
}

// SubmitBooking reserves a seat for the calling student. A repeated request
// with the same Idempotency-Key replays the first response.
func (s *Service) SubmitBooking(c *gin.Context) {
	ctx := c.Request.Context()
	actor := auth.Current(c)

	eventID, err := httpx.ParamID(c, "id")
	if err != nil {
		httpx.Error(c, err)
		return
	}

	var idemKey string
	if key := c.GetHeader(IdempotencyHeader); key != "" {
		idemKey = fmt.Sprintf("book:%d:%d:%s", actor.UserID, eventID, key)
		cached, err := s.redisClient.LookupResponse(ctx, idemKey)
		if err != nil {
			s.logger.WithError(err).Warn("idempotency lookup failed")
		}
		if cached != nil {
			c.Header("Idempotent-Replay", "true")
			c.Data(cached.Status, "application/json; charset=utf-8", cached.Body)
			return
		}
	}

	status, body := http.StatusCreated, interface{}(nil)
	booking, err := s.workflow.Submit(ctx, actor, eventID)
	if err != nil {
		if apperr.Status(err) == http.StatusInternalServerError {
			httpx.Error(c, err)
			return
		}
		status, body = apperr.Status(err), gin.H{"error": err.Error(), "code": apperr.Code(err)}
	} else {
		body = booking
	}

	data, err := json.Marshal(body)
	if err != nil {
		httpx.Error(c, errors.Wrap(err, "encode response"))
		return
	}
	if idemKey != "" {
		if err := s.redisClient.StoreResponse(ctx, idemKey, redis.CachedResponse{Status: status, Body: data}, idempotencyTTL); err != nil {
			s.logger.WithError(err).Warn("idempotency store failed")
		}
	}
	c.Data(status, "application/json; charset=utf-8", data)
}

func (s *Service) MyBookings(c *gin.Context) {
	bookings, err := s.workflow.ForUser(c.Request.Context(), auth.Current(c))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, bookings)
}

func (s *Service) EventBookings(c *gin.Context) {
	eventID, err := httpx.ParamID(c, "id")
	if err != nil {
		httpx.Error(c, err)
		return
	}
	bookings, err := s.workflow.ForEvent(c.Request.Context(), auth.Current(c), eventID)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, bookings)
}

func (s *Service) ApprovalQueue(c *gin.Context) {
	bookings, err := s.workflow.Queue(c.Request.Context(), auth.Current(c))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, bookings)
}

func (s *Service) GetBooking(c *gin.Context) {
	booking, err := s.booking(c)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (s *Service) BookingHistory(c *gin.Context) {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		httpx.Error(c, err)
		return
	}
	history, err := s.workflow.History(c.Request.Context(), auth.Current(c), id)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (s *Service) CancelBooking(c *gin.Context) {
	s.decide(c, func(id uint) (*models.Booking, error) {
		return s.workflow.Cancel(c.Request.Context(), auth.Current(c), id)
	})
}

func (s *Service) ApproveBooking(c *gin.Context) {
	s.decide(c, func(id uint) (*models.Booking, error) {
		return s.workflow.Approve(c.Request.Context(), auth.Current(c), id)
	})
}

func (s *Service) RejectBooking(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := httpx.BindJSON(c, &req); err != nil {
			httpx.Error(c, err)
			return
		}
	}
	s.decide(c, func(id uint) (*models.Booking, error) {
		return s.workflow.Reject(c.Request.Context(), auth.Current(c), id, req.Reason)
	})
}

func (s *Service) decide(c *gin.Context, op func(id uint) (*models.Booking, error)) {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		httpx.Error(c, err)
		return
	}
	booking, err := op(id)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// DownloadTicket renders the ticket from the booking row, so it works even
// if the stored file or the confirmation mail was lost.
func (s *Service) DownloadTicket(c *gin.Context) {
	booking, err := s.booking(c)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	ticket, err := s.issuer.Issue(c.Request.Context(), booking.ID)
	if err != nil {
		if apperr.Public(err) {
			httpx.Error(c, err)
			return
		}
		s.logger.WithError(err).WithField("booking_id", booking.ID).Error("ticket generation failed")
		httpx.Error(c, apperr.Delivery(err, "ticket could not be generated"))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="ticket-%s.pdf"`, *ticket.Booking.TicketID))
	c.Data(http.StatusOK, "application/pdf", ticket.PDF)
}

func (s *Service) QRCode(c *gin.Context) {
	booking, err := s.booking(c)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	if booking.Status != models.BookingConfirmed || booking.QRPayload == "" {
		httpx.Error(c, apperr.InvalidState("booking %d is %s, QR codes exist only for confirmed bookings", booking.ID, booking.Status))
		return
	}

	png, err := artifact.QRCode(booking.QRPayload, qrSize)
	if err != nil {
		httpx.Error(c, apperr.Delivery(err, "QR code could not be generated"))
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// VerifyTicket checks the code read from a ticket's QR image at the door.
func (s *Service) VerifyTicket(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := httpx.BindJSON(c, &req); err != nil {
		httpx.Error(c, err)
		return
	}
	booking, err := s.workflow.VerifyTicket(c.Request.Context(), auth.Current(c), req.Code)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "booking": booking})
}

// ResendTicket queues the confirmation mail again.
func (s *Service) ResendTicket(c *gin.Context) {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		httpx.Error(c, err)
		return
	}
	if err := s.workflow.ResendTicket(c.Request.Context(), auth.Current(c), id); err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "ticket will be sent again shortly"})
}

func (s *Service) booking(c *gin.Context) (*models.Booking, error) {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return nil, err
	}
	return s.workflow.Get(c.Request.Context(), auth.Current(c), id)
}
