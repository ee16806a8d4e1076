package contact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Zachkp/portfolio/internal/logging"
)

// MaxBodyBytes bounds the contact form payload.
const MaxBodyBytes = 64 << 10

// Recorder stores delivery outcomes. Implementations must not keep any of
// the submitted content.
type Recorder interface {
	Record(ctx context.Context, clientIP string, outcome string) error
}

type Handler struct {
	relay    *Relay
	recorder Recorder
	logger   *logging.Logger
	proxies  []*net.IPNet
}

// NewHandler wires the relay into gin. recorder may be nil.
func NewHandler(relay *Relay, recorder Recorder, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{relay: relay, recorder: recorder, logger: logger}
}

// TrustProxies sets the peers (IPs or CIDRs) whose X-Forwarded-Proto and
// X-Forwarded-Host headers may choose the links in the auto-reply.
func (h *Handler) TrustProxies(proxies []string) error {
	nets := make([]*net.IPNet, 0, len(proxies))
	for _, proxy := range proxies {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}
		if !strings.Contains(proxy, "/") {
			ip := net.ParseIP(proxy)
			if ip == nil {
				return fmt.Errorf("invalid trusted proxy %q", proxy)
			}
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				ip, bits = ip.To4(), 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, cidr, err := net.ParseCIDR(proxy)
		if err != nil {
			return fmt.Errorf("invalid trusted proxy %q: %w", proxy, err)
		}
		nets = append(nets, cidr)
	}
	h.proxies = nets
	return nil
}

func (h *Handler) trustedPeer(remoteIP string) bool {
	ip := net.ParseIP(remoteIP)
	if ip == nil {
		return false
	}
	for _, cidr := range h.proxies {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// Submit handles a contact form submission. It is registered for every
// method so that non-POST requests get the JSON 405 body.
func (h *Handler) Submit(c *gin.Context) {
	logger := h.logger
	if requestID := c.GetString("RequestID"); requestID != "" {
		logger = logger.With(requestID)
	}

	if c.Request.Method != http.MethodPost {
		c.Header("Allow", http.MethodPost)
		c.JSON(http.StatusMethodNotAllowed, failure(MsgMethodNotAllowed))
		return
	}

	if !h.relay.Configured() {
		logger.Error("Contact email settings are missing")
		c.JSON(http.StatusInternalServerError, failure(MsgNotConfigured))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, failure(MsgTooLarge))
			return
		}
		logger.Warn("Failed to read contact body: %v", err)
		c.JSON(http.StatusBadRequest, failure(MsgInvalidJSON))
		return
	}

	sub, err := ParseSubmission(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, failure(MsgInvalidJSON))
		return
	}
	if err := sub.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, failure(MsgMissingFields))
		return
	}

	siteURL := SiteURL(c.Request, h.trustedPeer(c.RemoteIP()))
	outcome := h.relay.Deliver(c.Request.Context(), logger, sub, siteURL)
	h.record(c, logger, outcome)

	switch outcome {
	case OutcomeOwnerFailed:
		c.JSON(http.StatusInternalServerError, failure(MsgDeliveryFailed))
	case OutcomeAutoReplyFailed:
		sent := false
		c.JSON(http.StatusOK, Response{Success: true, AutoReplySent: &sent, Message: MsgAutoReplyFailed})
	default:
		c.JSON(http.StatusOK, Response{Success: true, Message: MsgSent})
	}
}

func (h *Handler) record(c *gin.Context, logger *logging.Logger, outcome Outcome) {
	if h.recorder == nil {
		return
	}
	// A canceled request still gets its outcome recorded.
	ctx := context.WithoutCancel(c.Request.Context())
	if err := h.recorder.Record(ctx, c.ClientIP(), string(outcome)); err != nil {
		logger.Warn("Failed to record contact outcome: %v", err)
	}
}

// TooManyRequests is the body served by the contact rate limiter.
func TooManyRequests(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, failure(MsgTooManyRequests))
}

// InternalError is the body served when a handler panics.
func InternalError(c *gin.Context, _ any) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, failure(MsgInternalError))
}
