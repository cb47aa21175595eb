package http

import (
	"crypto/subtle"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/permephem/null-sub005/internal/domain"
	"github.com/permephem/null-sub005/internal/infra/keys"
)

type adminMinFeeRequest struct {
	MinFee string `json:"minFee"`
}

type adminTreasuryRequest struct {
	Treasury string `json:"treasury"`
}

type adminTransfersRequest struct {
	Enabled *bool `json:"enabled"`
}

type adminWithdrawRequest struct {
	Account string `json:"account"`
}

type adminRevokeRequest struct {
	Reason    string `json:"reason"`
	RevokedAt string `json:"revokedAt,omitempty"`
}

// requireAdmin gates the admin group on X-Admin-Key. With no key
// configured every admin call is refused.
func (s *Server) requireAdmin(c *gin.Context) {
	if s.adminAPIKey == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "admin key required")
		return
	}
	key := strings.TrimSpace(c.GetHeader("X-Admin-Key"))
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
		return
	}
	c.Next()
}

func (s *Server) handleAdminPause(c *gin.Context) {
	if err := s.ledger.Pause(s.adminAccount); err != nil {
		s.writeError(c, err)
		return
	}
	requestLogger(c, s.log).Warn("ledger paused")
	c.JSON(http.StatusOK, gin.H{"paused": s.ledger.Paused()})
}

func (s *Server) handleAdminUnpause(c *gin.Context) {
	if err := s.ledger.Unpause(s.adminAccount); err != nil {
		s.writeError(c, err)
		return
	}
	requestLogger(c, s.log).Warn("ledger unpaused")
	c.JSON(http.StatusOK, gin.H{"paused": s.ledger.Paused()})
}

func (s *Server) handleAdminMinFee(c *gin.Context) {
	var req adminMinFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidDocument, "invalid json")
		return
	}
	fee, err := parseAmount(req.MinFee)
	if err != nil {
		s.writeError(c, invalidField("minFee"))
		return
	}
	if err := s.ledger.SetMinFee(s.adminAccount, fee); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"minFee": s.ledger.MinFee().String()})
}

func (s *Server) handleAdminTreasury(c *gin.Context) {
	var req adminTreasuryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidDocument, "invalid json")
		return
	}
	if !common.IsHexAddress(req.Treasury) {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidAddress, "treasury must be a 20-byte hex address")
		return
	}
	treasury := common.HexToAddress(req.Treasury)
	if err := s.ledger.SetTreasury(s.adminAccount, treasury); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"treasury": treasury})
}

// handleAdminWithdraw pays out a beneficiary's pull-payment balance on its
// behalf.
func (s *Server) handleAdminWithdraw(c *gin.Context) {
	var req adminWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidDocument, "invalid json")
		return
	}
	if !common.IsHexAddress(req.Account) {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidAddress, "account must be a 20-byte hex address")
		return
	}
	account := common.HexToAddress(req.Account)
	amount, err := s.ledger.Withdraw(c.Request.Context(), account)
	if err != nil {
		s.writeError(c, err)
		return
	}
	requestLogger(c, s.log).WithField("account", account.Hex()).WithField("amount", amount.String()).Info("balance withdrawn")
	c.JSON(http.StatusOK, gin.H{"account": account, "amount": amount.String()})
}

func (s *Server) handleAdminTransfers(c *gin.Context) {
	var req adminTransfersRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeMissingField, "enabled is required")
		return
	}
	if err := s.receipts.SetTransfersEnabled(s.adminAccount, *req.Enabled); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfersEnabled": s.receipts.TransfersEnabled()})
}

func (s *Server) handleAdminRegisterKey(c *gin.Context) {
	var req keys.SeedKey
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidDocument, "invalid json")
		return
	}
	key, err := keys.ParseSeedKey(req)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidDocument, err.Error())
		return
	}
	key.CreatedAt = s.now().UTC()
	if err := s.keys.PutKey(c.Request.Context(), key); err != nil {
		s.writeError(c, err)
		return
	}
	requestLogger(c, s.log).WithField("kid", key.KID).WithField("owner", key.Owner).Info("signing key registered")
	c.JSON(http.StatusCreated, key)
}

func (s *Server) handleAdminRevokeKey(c *gin.Context) {
	kid := c.Param("kid")
	var req adminRevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidDocument, "invalid json")
		return
	}
	revokedAt := s.now().UTC()
	if req.RevokedAt != "" {
		parsed, err := domain.ParseTimestamp(req.RevokedAt)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidTimestamp, "invalid revokedAt")
			return
		}
		revokedAt = parsed
	}
	if err := s.keys.RevokeKey(c.Request.Context(), kid, req.Reason, revokedAt); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErrorCode(c, http.StatusNotFound, domain.CodeUnknownKey, "unknown key "+kid)
			return
		}
		s.writeError(c, err)
		return
	}
	requestLogger(c, s.log).WithField("kid", kid).Warn("signing key revoked")
	c.JSON(http.StatusOK, gin.H{"kid": kid, "status": domain.KeyStatusRevoked})
}

func parseAmount(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.New("amount must be a non-negative decimal integer")
	}
	return amount, nil
}
