package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/permephem/null-sub005/internal/domain"
	"github.com/permephem/null-sub005/internal/infra/ledger"
	"github.com/permephem/null-sub005/internal/infra/receipts"
)

const maxDocumentBytes = 1 << 20

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type delegatedAnchorRequest struct {
	WarrantHash       string `json:"warrantHash"`
	AttestationHash   string `json:"attestationHash"`
	SubjectTag        string `json:"subjectTag"`
	ControllerDIDHash string `json:"controllerDidHash"`
	Assurance         uint8  `json:"assurance"`
	Fee               string `json:"fee"`
	Signer            string `json:"signer,omitempty"`
	Nonce             uint64 `json:"nonce"`
	// Deadline is a unix timestamp in seconds.
	Deadline  int64  `json:"deadline"`
	Signature string `json:"signature"`
}

type ledgerRefResponse struct {
	Height uint64 `json:"height"`
	TxRef  string `json:"txRef,omitempty"`
}

type anchorResponse struct {
	Record    domain.AnchoredRecord `json:"record"`
	LedgerRef ledgerRefResponse     `json:"ledgerRef"`
}

type verifyReceiptResponse struct {
	Valid           bool          `json:"valid"`
	TokenID         domain.Digest `json:"tokenId"`
	WarrantHash     domain.Digest `json:"warrantHash"`
	AttestationHash domain.Digest `json:"attestationHash"`
	Minted          bool          `json:"minted"`
}

func (s *Server) handleSubmitWarrant(c *gin.Context) {
	raw, ok := readDocument(c)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeWarrantsSubmit, enterpriseOf(raw)) {
		return
	}
	res, err := s.relayer.SubmitWarrant(c.Request.Context(), raw)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(submissionStatusCode(res.Outcome), res)
}

func (s *Server) handleSubmitAttestation(c *gin.Context) {
	raw, ok := readDocument(c)
	if !ok {
		return
	}
	var hint *domain.Digest
	if value := c.Query("warrantDigest"); value != "" {
		d, err := parseDigest(value)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidDocument, "warrantDigest must be a 32-byte hex digest")
			return
		}
		hint = &d
	}
	if !s.enforceRateLimit(c, routeAttestationsSubmit, enterpriseOf(raw)) {
		return
	}
	res, err := s.relayer.SubmitAttestation(c.Request.Context(), raw, hint)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(submissionStatusCode(res.Outcome), res)
}

func (s *Server) handleStatus(c *gin.Context) {
	if !s.enforceRateLimit(c, routeStatusRead, "") {
		return
	}
	status, err := s.relayer.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleAnchorRecord(c *gin.Context) {
	if !s.enforceRateLimit(c, routeLedgerRead, "") {
		return
	}
	digest, err := parseDigest(c.Param("digest"))
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidDocument, "digest must be 32-byte hex")
		return
	}
	record, err := s.ledger.RecordFor(c.Request.Context(), digest)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleDelegatedAnchor(c *gin.Context) {
	var req delegatedAnchorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidDocument, "invalid json")
		return
	}
	delegated, err := req.toDomain()
	if err != nil {
		s.writeError(c, err)
		return
	}
	caller := ""
	if delegated.Signer != (domain.Address{}) {
		caller = delegated.Signer.Hex()
	}
	if !s.enforceRateLimit(c, routeDelegatedAnchor, caller) {
		return
	}
	record, err := s.ledger.AnchorDelegated(c.Request.Context(), delegated)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, anchorResponse{
		Record:    record,
		LedgerRef: ledgerRefResponse{Height: record.Height},
	})
}

func (s *Server) handleNonce(c *gin.Context) {
	if !s.enforceRateLimit(c, routeLedgerRead, "") {
		return
	}
	addr, ok := addressParam(c, "address")
	if !ok {
		return
	}
	nonce, err := s.ledger.Nonce(c.Request.Context(), addr)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr, "nonce": nonce})
}

func (s *Server) handleCheckpoint(c *gin.Context) {
	if !s.enforceRateLimit(c, routeLedgerRead, "") {
		return
	}
	cp, err := s.ledger.Checkpoint(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (s *Server) handleInclusionProof(c *gin.Context) {
	if !s.enforceRateLimit(c, routeLedgerRead, "") {
		return
	}
	height, err := strconv.ParseUint(c.Param("height"), 10, 64)
	if err != nil || height == 0 {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidDocument, "height must be a positive integer")
		return
	}
	proof, err := s.ledger.InclusionProof(c.Request.Context(), height)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, proof)
}

func (s *Server) handleBalance(c *gin.Context) {
	if !s.enforceRateLimit(c, routeLedgerRead, "") {
		return
	}
	addr, ok := addressParam(c, "address")
	if !ok {
		return
	}
	balance, err := s.ledger.Balance(c.Request.Context(), addr)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr, "balance": balance.String()})
}

func (s *Server) handleReceipt(c *gin.Context) {
	if !s.enforceRateLimit(c, routeReceiptsRead, "") {
		return
	}
	tokenID, err := parseDigest(c.Param("token_id"))
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidDocument, "token id must be 32-byte hex")
		return
	}
	token, err := s.receipts.Receipt(c.Request.Context(), tokenID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, token)
}

func (s *Server) handleTokenID(c *gin.Context) {
	warrant, err := parseDigest(c.Query("warrantDigest"))
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidDocument, "warrantDigest must be 32-byte hex")
		return
	}
	attestation, err := parseDigest(c.Query("attestationDigest"))
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidDocument, "attestationDigest must be 32-byte hex")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokenId": receipts.TokenIDFor(warrant, attestation)})
}

// handleVerifyReceipt checks a receipt document offline and reports whether
// the token it names has been minted.
func (s *Server) handleVerifyReceipt(c *gin.Context) {
	raw, ok := readDocument(c)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeReceiptsRead, "") {
		return
	}
	vr, err := s.verifier.ValidateReceipt(c.Request.Context(), raw)
	if err != nil {
		s.writeError(c, err)
		return
	}
	minted := true
	if _, err := s.receipts.Receipt(c.Request.Context(), vr.TokenID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.writeError(c, err)
			return
		}
		minted = false
	}
	c.JSON(http.StatusOK, verifyReceiptResponse{
		Valid:           true,
		TokenID:         vr.TokenID,
		WarrantHash:     vr.WarrantHash,
		AttestationHash: vr.AttestationHash,
		Minted:          minted,
	})
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func (r delegatedAnchorRequest) toDomain() (domain.DelegatedAnchorRequest, error) {
	var out domain.DelegatedAnchorRequest
	var err error
	if out.WarrantDigest, err = parseDigest(r.WarrantHash); err != nil {
		return out, invalidField("warrantHash")
	}
	if r.AttestationHash != "" {
		if out.AttestationDigest, err = parseDigest(r.AttestationHash); err != nil {
			return out, invalidField("attestationHash")
		}
	}
	if out.SubjectTag, err = parseDigest(r.SubjectTag); err != nil {
		return out, invalidField("subjectTag")
	}
	if out.ControllerDIDHash, err = parseDigest(r.ControllerDIDHash); err != nil {
		return out, invalidField("controllerDidHash")
	}
	out.Assurance = domain.AssuranceLevel(r.Assurance)
	fee, err := parseAmount(r.Fee)
	if err != nil {
		return out, invalidField("fee")
	}
	out.Fee = fee
	if r.Signer != "" {
		if !common.IsHexAddress(r.Signer) {
			return out, invalidField("signer")
		}
		out.Signer = common.HexToAddress(r.Signer)
	}
	out.Nonce = r.Nonce
	if r.Deadline <= 0 {
		return out, invalidField("deadline")
	}
	out.Deadline = time.Unix(r.Deadline, 0).UTC()
	if out.Signature, err = ledger.DecodeSignature(r.Signature); err != nil || len(out.Signature) == 0 {
		return out, invalidField("signature")
	}
	return out, nil
}

func invalidField(name string) error {
	return domain.E(domain.ErrValidation, domain.CodeInvalidDocument, name+" is malformed")
}

// readDocument returns the request body untouched; documents are hashed
// over their exact JSON so nothing may be re-encoded before validation.
func readDocument(c *gin.Context) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxDocumentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorCode(c, http.StatusRequestEntityTooLarge, domain.CodeInvalidDocument, "document too large")
			return nil, false
		}
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidDocument, "unreadable body")
		return nil, false
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidDocument, "empty body")
		return nil, false
	}
	return raw, true
}

func submissionStatusCode(outcome domain.Outcome) int {
	switch outcome {
	case domain.OutcomePending:
		return http.StatusAccepted
	case domain.OutcomeDuplicate:
		return http.StatusOK
	default:
		return http.StatusCreated
	}
}

func parseDigest(value string) (domain.Digest, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "0x") && !strings.HasPrefix(value, "0X") {
		value = "0x" + value
	}
	b, err := hexutil.Decode(value)
	if err != nil {
		return domain.Digest{}, err
	}
	if len(b) != common.HashLength {
		return domain.Digest{}, errors.New("digest must be 32 bytes")
	}
	return common.BytesToHash(b), nil
}

func addressParam(c *gin.Context, name string) (domain.Address, bool) {
	value := c.Param(name)
	if !common.IsHexAddress(value) {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidAddress, name+" must be a 20-byte hex address")
		return domain.Address{}, false
	}
	return common.HexToAddress(value), true
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSignature):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrReplay), errors.Is(err, domain.ErrAlreadyMinted):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrAuthorization):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrTransient):
		status = http.StatusServiceUnavailable
	}
	code := domain.CodeOf(err)
	message := err.Error()
	var coded *domain.Error
	if errors.As(err, &coded) && coded.Message != "" {
		message = coded.Message
	}
	if status == http.StatusInternalServerError {
		requestLogger(c, s.log).WithError(err).Error("unhandled error")
		if code == "" {
			code = domain.CodeInternal
		}
		message = "internal error"
	}
	writeErrorCode(c, status, code, message)
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
