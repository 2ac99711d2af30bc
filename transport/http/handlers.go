package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/givechain/warden/core"
	"github.com/givechain/warden/service"
)

// Handlers contains the HTTP handlers for auth and approval endpoints
type Handlers struct {
	authService     *service.AuthService
	approvalService *service.ApprovalService
}

// NewHandlers creates new handlers
func NewHandlers(authService *service.AuthService, approvalService *service.ApprovalService) *Handlers {
	return &Handlers{
		authService:     authService,
		approvalService: approvalService,
	}
}

// Challenge handles the challenge request
func (h *Handlers) Challenge(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	challenge, err := h.authService.CreateChallenge(c.Request.Context(), req.Address)
	if err != nil {
		if errors.Is(err, core.ErrInvalidAddress) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create challenge"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    h.authService.ChallengeMessage(challenge),
		"nonce":      challenge.Nonce,
		"issued_at":  challenge.IssuedAt.UTC().Format(time.RFC3339),
		"expires_at": challenge.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Login handles the verification request
func (h *Handlers) Login(c *gin.Context) {
	var req struct {
		Address   string `json:"address" binding:"required"`
		Signature string `json:"signature" binding:"required"`
		Message   string `json:"message" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	credential, expiresAt, err := h.authService.Login(c.Request.Context(), req.Address, req.Signature, req.Message)
	if err != nil {
		status, msg := loginErrorResponse(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"credential": credential,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"address":    req.Address,
		"role":       core.DefaultRole.String(),
	})
}

// loginErrorResponse maps authentication failures to status codes. Only
// the error kind is surfaced; internal detail stays out of the response.
func loginErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrChallengeNotFound):
		return http.StatusBadRequest, "challenge not found"
	case errors.Is(err, core.ErrChallengeExpired):
		return http.StatusBadRequest, "challenge expired"
	case errors.Is(err, core.ErrMessageMismatch):
		return http.StatusBadRequest, "message mismatch"
	case errors.Is(err, core.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid signature"
	default:
		return http.StatusInternalServerError, "authentication failed"
	}
}

// abortUnauthenticated rejects a request whose credential never made it
// into the context. Routes behind AuthMiddleware only hit this when
// miswired.
func abortUnauthenticated(c *gin.Context) {
	status, msg := approvalErrorResponse(core.ErrUnauthenticated)
	c.JSON(status, gin.H{"error": msg})
}

// Refresh handles credential refresh
func (h *Handlers) Refresh(c *gin.Context) {
	credential, ok := credentialFromContext(c)
	if !ok {
		abortUnauthenticated(c)
		return
	}

	newCredential, expiresAt, err := h.authService.Refresh(c.Request.Context(), credential)
	if err != nil {
		if errors.Is(err, core.ErrCredentialExpired) || errors.Is(err, core.ErrCredentialInvalid) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refresh credential"})
		return
	}

	identity, _ := identityFromContext(c)

	c.JSON(http.StatusOK, gin.H{
		"credential": newCredential,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"address":    identity.Address,
		"role":       identity.Role.String(),
	})
}

// Logout handles session logout
func (h *Handlers) Logout(c *gin.Context) {
	credential, ok := credentialFromContext(c)
	if !ok {
		abortUnauthenticated(c)
		return
	}

	if err := h.authService.Logout(c.Request.Context(), credential); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to logout"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns information about the authenticated user
func (h *Handlers) Me(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		abortUnauthenticated(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": identity.Address,
		"role":    identity.Role.String(),
	})
}

// Approve initiates the two-phase approval of an organization
func (h *Handlers) Approve(c *gin.Context) {
	credential, ok := credentialFromContext(c)
	if !ok {
		abortUnauthenticated(c)
		return
	}

	record, err := h.approvalService.InitiateApproval(c.Request.Context(), c.Param("id"), credential)
	if err != nil {
		status, msg := approvalErrorResponse(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ledger_tx_id": record.LedgerTxID,
		"status":       string(core.StatusAwaitingConfirmation),
	})
}

// Reject rejects a pending organization, off-chain only
func (h *Handlers) Reject(c *gin.Context) {
	credential, ok := credentialFromContext(c)
	if !ok {
		abortUnauthenticated(c)
		return
	}

	if err := h.approvalService.Reject(c.Request.Context(), c.Param("id"), credential); err != nil {
		status, msg := approvalErrorResponse(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(core.StatusRejected)})
}

// RetryCommit re-attempts the off-chain half of a confirmed approval
func (h *Handlers) RetryCommit(c *gin.Context) {
	if err := h.approvalService.RetryOffChainCommit(c.Request.Context(), c.Param("id")); err != nil {
		status, msg := approvalErrorResponse(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(core.StatusApproved)})
}

// Status returns the verification status of an organization
func (h *Handlers) Status(c *gin.Context) {
	status, err := h.approvalService.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, core.ErrEntityNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entity not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(status)})
}

func approvalErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrUnauthenticated),
		errors.Is(err, core.ErrCredentialExpired),
		errors.Is(err, core.ErrCredentialInvalid):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, core.ErrEntityNotFound):
		return http.StatusNotFound, "entity not found"
	case errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict, "invalid status transition"
	case errors.Is(err, core.ErrLedgerSubmissionFailed):
		return http.StatusBadGateway, "ledger submission failed"
	case errors.Is(err, core.ErrOffChainCommitFailed):
		return http.StatusBadGateway, "off-chain commit failed"
	case errors.Is(err, core.ErrInvariantViolation):
		return http.StatusConflict, "approval not ledger-confirmed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
