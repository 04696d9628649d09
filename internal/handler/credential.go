package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classroom/internal/domain"
	"classroom/internal/middleware"
	"classroom/internal/service"
	apperrors "classroom/pkg/errors"
	"classroom/pkg/logger"
)

type CredentialHandler struct {
	credentials service.CredentialService
	log         logger.Logger
}

func NewCredentialHandler(credentials service.CredentialService, log logger.Logger) *CredentialHandler {
	return &CredentialHandler{
		credentials: credentials,
		log:         log,
	}
}

type IssueCredentialRequest struct {
	Identity    string         `json:"identity" binding:"required"`
	DisplayName string         `json:"display_name"`
	Role        domain.Role    `json:"role" binding:"required"`
	Metadata    map[string]any `json:"metadata"`
	TTLSeconds  int            `json:"ttl_seconds" binding:"min=0"`
}

// mayIssue: операторские роли выдают токены кому угодно, остальные - только себе
// и только со своей ролью из JWT
func (h *CredentialHandler) mayIssue(c *gin.Context, identity string, role domain.Role) bool {
	callerRole, _ := c.Get(middleware.ContextRole)
	r, _ := callerRole.(domain.Role)
	if domain.CanOperate(r) {
		return true
	}
	caller := c.GetString(middleware.ContextIdentity)
	if identity == caller && role == r {
		return true
	}
	h.log.Warn("Credential request denied", "caller", caller, "caller_role", r, "identity", identity, "role", role)
	return false
}

func (h *CredentialHandler) Issue(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	var req IssueCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if !h.mayIssue(c, req.Identity, req.Role) {
		abortWithError(c, apperrors.ErrForbidden)
		return
	}

	cred, err := h.credentials.Issue(c.Request.Context(), roomID, service.CredentialRequest{
		Identity:    req.Identity,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		Metadata:    req.Metadata,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	h.log.Info("Credential issued", "room_id", roomID, "identity", cred.Identity, "role", cred.Role)
	c.JSON(http.StatusOK, cred)
}

type ProbeRequest struct {
	Identity string `json:"identity"`
}

func (h *CredentialHandler) Probe(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	// тело необязательно
	var req ProbeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	// скрытый ghost-токен под чужой identity выдает только оператор
	if req.Identity != "" && req.Identity != c.GetString(middleware.ContextIdentity) && !h.mayIssue(c, req.Identity, domain.RoleGhost) {
		abortWithError(c, apperrors.ErrForbidden)
		return
	}

	cred, err := h.credentials.IssueProbe(c.Request.Context(), roomID, req.Identity)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, cred)
}
