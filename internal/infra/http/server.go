package http

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/permephem/null-sub005/internal/config"
	"github.com/permephem/null-sub005/internal/domain"
	"github.com/permephem/null-sub005/internal/usecase"
)

// Relayer is the submission surface the handlers drive.
type Relayer interface {
	SubmitWarrant(ctx context.Context, raw []byte) (usecase.WarrantResult, error)
	SubmitAttestation(ctx context.Context, raw []byte, warrantHint *domain.Digest) (usecase.AttestationResult, error)
	GetStatus(ctx context.Context, id string) (domain.SubmissionStatus, error)
}

type ReceiptVerifier interface {
	ValidateReceipt(ctx context.Context, raw []byte) (usecase.ValidatedReceipt, error)
}

type Ledger interface {
	RecordFor(ctx context.Context, digest domain.Digest) (domain.AnchoredRecord, error)
	Nonce(ctx context.Context, account domain.Address) (uint64, error)
	Checkpoint(ctx context.Context) (domain.Checkpoint, error)
	InclusionProof(ctx context.Context, height uint64) (domain.InclusionProof, error)
	AnchorDelegated(ctx context.Context, req domain.DelegatedAnchorRequest) (domain.AnchoredRecord, error)
	Balance(ctx context.Context, account domain.Address) (*big.Int, error)
	Withdraw(ctx context.Context, caller domain.Address) (*big.Int, error)
	Pause(caller domain.Address) error
	Unpause(caller domain.Address) error
	Paused() bool
	SetMinFee(caller domain.Address, fee *big.Int) error
	MinFee() *big.Int
	SetTreasury(caller, treasury domain.Address) error
}

type Receipts interface {
	Receipt(ctx context.Context, tokenID domain.Digest) (domain.ReceiptToken, error)
	SetTransfersEnabled(caller domain.Address, enabled bool) error
	TransfersEnabled() bool
}

type Server struct {
	cfg config.Config
	r   *gin.Engine
	log logrus.FieldLogger

	relayer  Relayer
	verifier ReceiptVerifier
	ledger   Ledger
	receipts Receipts
	keys     domain.KeyDirectory

	adminAPIKey  string
	adminAccount domain.Address
	storageMode  string
	now          func() time.Time

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

type ServerDeps struct {
	Relayer  Relayer
	Verifier ReceiptVerifier
	Ledger   Ledger
	Receipts Receipts
	Keys     domain.KeyDirectory
	// AdminAccount is the ledger identity admin endpoints act as.
	AdminAccount domain.Address
	RateLimiter  domain.RateLimiter
	Logger       logrus.FieldLogger
	StorageMode  string
	Now          func() time.Time
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:                 cfg,
		r:                   r,
		log:                 deps.Logger,
		relayer:             deps.Relayer,
		verifier:            deps.Verifier,
		ledger:              deps.Ledger,
		receipts:            deps.Receipts,
		keys:                deps.Keys,
		adminAPIKey:         cfg.AdminAPIKey,
		adminAccount:        deps.AdminAccount,
		storageMode:         deps.StorageMode,
		now:                 deps.Now,
		rateLimiter:         deps.RateLimiter,
		rateLimitRequests:   cfg.RateLimitRequests,
		rateLimitWindow:     cfg.RateLimitWindow(),
		rateLimitFailClosed: cfg.RateLimitFailClosed,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.storageMode == "" {
		s.storageMode = "memory"
	}
	r.Use(requestID(), accessLog(s.log))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/healthz", s.handleHealth)

	v1 := s.r.Group("/v1")
	{
		v1.POST("/warrants", s.handleSubmitWarrant)
		v1.POST("/attestations", s.handleSubmitAttestation)
		v1.GET("/status/:id", s.handleStatus)

		v1.GET("/ledger/anchors/:digest", s.handleAnchorRecord)
		v1.POST("/ledger/anchors/delegated", s.handleDelegatedAnchor)
		v1.GET("/ledger/nonces/:address", s.handleNonce)
		v1.GET("/ledger/checkpoint", s.handleCheckpoint)
		v1.GET("/ledger/inclusion/:height", s.handleInclusionProof)
		v1.GET("/ledger/balances/:address", s.handleBalance)

		v1.GET("/receipts/token-id", s.handleTokenID)
		v1.GET("/receipts/:token_id", s.handleReceipt)
		v1.POST("/receipts/verify", s.handleVerifyReceipt)

		admin := v1.Group("/admin", s.requireAdmin)
		admin.POST("/ledger/pause", s.handleAdminPause)
		admin.POST("/ledger/unpause", s.handleAdminUnpause)
		admin.POST("/ledger/min-fee", s.handleAdminMinFee)
		admin.POST("/ledger/treasury", s.handleAdminTreasury)
		admin.POST("/ledger/withdraw", s.handleAdminWithdraw)
		admin.POST("/receipts/transfers", s.handleAdminTransfers)
		admin.POST("/keys", s.handleAdminRegisterKey)
		admin.POST("/keys/:kid/revoke", s.handleAdminRevokeKey)
	}

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.HTTPAddr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	paused := false
	if s.ledger != nil {
		paused = s.ledger.Paused()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": s.storageMode, "paused": paused})
}
