package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/permephem/null-sub005/internal/config"
	"github.com/permephem/null-sub005/internal/domain"
	"github.com/permephem/null-sub005/internal/infra/auth/rbac"
	"github.com/permephem/null-sub005/internal/infra/crypto"
	"github.com/permephem/null-sub005/internal/infra/db"
	httpinfra "github.com/permephem/null-sub005/internal/infra/http"
	"github.com/permephem/null-sub005/internal/infra/keys"
	"github.com/permephem/null-sub005/internal/infra/ledger"
	"github.com/permephem/null-sub005/internal/infra/policyopa"
	"github.com/permephem/null-sub005/internal/infra/ratelimit"
	"github.com/permephem/null-sub005/internal/infra/receipts"
	"github.com/permephem/null-sub005/internal/infra/sqlite"
	"github.com/permephem/null-sub005/internal/infra/statemem"
	"github.com/permephem/null-sub005/internal/usecase"
)

const (
	storagePostgres = "postgres"
	storageSQLite   = "sqlite"
	storageMemory   = "memory"
)

type application struct {
	server      *httpinfra.Server
	relayer     *usecase.Relayer
	node        *ledger.Node
	account     domain.Address
	storageMode string
	closers     []func() error
	log         logrus.FieldLogger
}

// Close drains background confirmations before releasing storage.
func (a *application) Close() {
	if a.relayer != nil {
		a.relayer.Wait()
	}
	if a.node != nil {
		a.node.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("close failed")
		}
	}
}

type stores struct {
	mode     string
	ledger   domain.LedgerStore
	receipts domain.ReceiptStore
	keys     domain.KeyDirectory
	statuses domain.SubmissionStore
	closers  []func() error
}

func openStores(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (stores, error) {
	switch {
	case cfg.PostgresDSN != "":
		store, err := db.NewStore(cfg.PostgresDSN, log)
		if err != nil {
			return stores{}, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return stores{}, err
		}
		return stores{
			mode:     storagePostgres,
			ledger:   db.NewLedgerRepository(store.DB),
			receipts: db.NewReceiptRepository(store.DB),
			keys:     db.NewSigningKeyRepository(store.DB),
			statuses: db.NewSubmissionRepository(store.DB),
			closers:  []func() error{store.Close},
		}, nil
	case cfg.DataPath != "":
		store, err := sqlite.Open(cfg.DataPath)
		if err != nil {
			return stores{}, err
		}
		statuses, err := statemem.NewStatusCache(cfg.StatusCacheSize)
		if err != nil {
			store.Close()
			return stores{}, err
		}
		return stores{
			mode:     storageSQLite,
			ledger:   store,
			receipts: store,
			keys:     keys.NewDirectory(),
			statuses: statuses,
			closers:  []func() error{store.Close},
		}, nil
	default:
		mem := statemem.New()
		statuses, err := statemem.NewStatusCache(cfg.StatusCacheSize)
		if err != nil {
			return stores{}, err
		}
		return stores{
			mode:     storageMemory,
			ledger:   mem,
			receipts: mem,
			keys:     keys.NewDirectory(),
			statuses: statuses,
		}, nil
	}
}

func build(ctx context.Context, cfg config.Config, log *logrus.Logger) (*application, error) {
	relayerKey, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.RelayerPrivateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("RELAYER_PRIVATE_KEY_HEX: %w", err)
	}
	signer, err := crypto.NewSecp256k1Signer(cfg.RelayerKeyID, relayerKey)
	if err != nil {
		return nil, err
	}
	account := signer.Address()
	tagKey, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(cfg.ControllerTagKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("CONTROLLER_TAG_KEY_HEX: %w", err)
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	app := &application{account: account, storageMode: st.mode, closers: st.closers, log: log}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	roles := rbac.NewAuthorizer()
	roles.Grant(rbac.RoleAdmin, account)
	roles.Grant(rbac.RoleSubmitter, account)
	roles.Grant(rbac.RoleMinter, account)

	minFee, err := cfg.MinFee()
	if err != nil {
		return nil, err
	}
	l, err := ledger.New(st.ledger, roles, ledger.Config{
		ChainID:           big.NewInt(cfg.ChainID),
		VerifyingContract: common.HexToAddress(cfg.LedgerContractAddress),
		MinFee:            minFee,
		ReserveBps:        uint16(cfg.LedgerReserveBps),
		Reserve:           optionalAddress(cfg.LedgerReserveAddress),
		Treasury:          optionalAddress(cfg.LedgerTreasuryAddress),
	})
	if err != nil {
		return nil, err
	}
	app.node, err = ledger.NewNode(l, account, ledger.NodeOptions{
		MaxInFlight: cfg.NodeMaxInFlight,
		Logger:      log.WithField("component", "ledger-node"),
	})
	if err != nil {
		return nil, err
	}
	issuer, err := receipts.NewIssuer(st.receipts, roles)
	if err != nil {
		return nil, err
	}
	if err := issuer.SetTransfersEnabled(account, cfg.ReceiptTransfersEnabled); err != nil {
		return nil, err
	}

	if err := registerKeys(ctx, cfg, st.keys, signer, log); err != nil {
		return nil, err
	}

	policy, err := buildPolicy(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	limiter, err := buildRateLimiter(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if redisLimiter, isRedis := limiter.(*ratelimit.RedisLimiter); isRedis {
		app.closers = append(app.closers, redisLimiter.Close)
	}

	anchorFee, err := cfg.AnchorFee()
	if err != nil {
		return nil, err
	}
	enterprises, err := cfg.EnterpriseAddressMap()
	if err != nil {
		return nil, err
	}
	defaultRecipient := account
	if cfg.ReceiptDefaultRecipient != "" {
		defaultRecipient = common.HexToAddress(cfg.ReceiptDefaultRecipient)
	}
	cryptoSvc := crypto.NewService()
	validator := &usecase.Validator{
		Keys:         st.keys,
		Crypto:       cryptoSvc,
		Anchors:      app.node,
		Statuses:     st.statuses,
		TagKey:       tagKey,
		MaxClockSkew: cfg.MaxClockSkew(),
	}
	deps := usecase.RelayerDeps{
		Validator: validator,
		Crypto:    cryptoSvc,
		Node:      app.node,
		Receipts:  issuer,
		Statuses:  st.statuses,
		Signer:    signer,
		Logger:    log.WithField("component", "relayer"),
	}
	if policy != nil {
		deps.Policy = policy
	}
	app.relayer, err = usecase.NewRelayer(deps, usecase.RelayerConfig{
		TagKey:              tagKey,
		AnchorFee:           anchorFee,
		MaxAttempts:         cfg.AnchorMaxAttempts,
		InitialBackoff:      cfg.AnchorInitialBackoff(),
		MaxBackoff:          cfg.AnchorMaxBackoff(),
		ConfirmationTimeout: cfg.ConfirmationTimeout(),
		EnterpriseAddresses: enterprises,
		DefaultRecipient:    defaultRecipient,
	})
	if err != nil {
		return nil, err
	}

	app.server = httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Relayer:      app.relayer,
		Verifier:     validator,
		Ledger:       l,
		Receipts:     issuer,
		Keys:         st.keys,
		AdminAccount: account,
		RateLimiter:  limiter,
		Logger:       log,
		StorageMode:  st.mode,
	})
	ok = true
	return app, nil
}

// registerKeys seeds the directory from KEY_DIRECTORY_FILE and registers the
// relayer's own receipt key under an empty owner.
func registerKeys(ctx context.Context, cfg config.Config, dir domain.KeyDirectory, signer *crypto.Secp256k1Signer, log logrus.FieldLogger) error {
	if cfg.KeyDirectoryFile != "" {
		n, err := keys.LoadFile(ctx, dir, cfg.KeyDirectoryFile)
		if err != nil {
			return err
		}
		log.WithField("keys", n).Info("loaded key directory")
	}
	return dir.PutKey(ctx, domain.SigningKey{
		KID:       signer.KeyID(),
		Alg:       signer.Algorithm().Name(),
		PublicKey: signer.PublicKey(),
		Status:    domain.KeyStatusActive,
		CreatedAt: time.Now().UTC(),
	})
}

// buildPolicy returns nil when admission policy is disabled.
func buildPolicy(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*policyopa.Engine, error) {
	if !cfg.PolicyEnabled {
		log.Warn("admission policy disabled; every valid warrant is admitted")
		return nil, nil
	}
	if cfg.PolicyBundlePath == "" {
		return policyopa.NewDefaultEngine(ctx)
	}
	engine, err := policyopa.NewEngineFromBundlePath(ctx, cfg.PolicyBundlePath)
	if err != nil {
		return nil, fmt.Errorf("load policy bundle: %w", err)
	}
	log.WithField("bundle_hash", engine.BundleHash()).Info("loaded policy bundle")
	return engine, nil
}

// buildRateLimiter returns nil when rate limiting is off. A Redis limiter
// that cannot be reached at startup is kept; requests then follow
// RATE_LIMIT_FAIL_CLOSED.
func buildRateLimiter(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (domain.RateLimiter, error) {
	if cfg.RateLimitRequests <= 0 {
		return nil, nil
	}
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{MaxKeys: cfg.RateLimitMaxKeys}), nil
	}
	limiter, err := ratelimit.NewRedisLimiter(ratelimit.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := limiter.Ping(pingCtx); err != nil {
		log.WithError(err).Warn("redis unreachable at startup")
	}
	return limiter, nil
}

func optionalAddress(value string) domain.Address {
	if value == "" {
		return domain.Address{}
	}
	return common.HexToAddress(value)
}
