package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"math/big"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"

	"github.com/givechain/warden/adapters/events"
	"github.com/givechain/warden/adapters/ledger"
	"github.com/givechain/warden/adapters/store"
	"github.com/givechain/warden/adapters/tokenizer"
	"github.com/givechain/warden/config"
	"github.com/givechain/warden/logging"
	"github.com/givechain/warden/ports"
	"github.com/givechain/warden/service"
	"github.com/givechain/warden/transport/http"
)

func main() {
	cfg, err := config.Load(os.Getenv("WARDEN_CONFIG"))
	if err != nil {
		logging.Log().Fatalf("Failed to load configuration: %v", err)
	}

	logging.Configure(cfg.LogLevel, cfg.LogJSON)
	log := logging.Log()

	// The credential signing key is ephemeral: restarting the service
	// invalidates outstanding credentials, which is acceptable given
	// their short lifetime.
	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		log.Fatalf("Failed to generate signing key: %v", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(opts)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: redisClient},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		log.Fatalf("Failed to create Redis publisher: %v", err)
	}

	eventPub := events.NewWatermillPublisher(publisher)
	challengeStore := store.NewRedisChallengeStore(redisClient)
	reconciliationStore := store.NewRedisReconciliationStore(redisClient)
	organizationStore := store.NewRedisOrganizationStore(redisClient)
	jwtTokenizer := tokenizer.NewJWTTokenizer(signKey, cfg.CredentialTTL)

	gateway, err := buildLedgerGateway(cfg.Ledger)
	if err != nil {
		log.Fatalf("Failed to set up ledger gateway: %v", err)
	}

	authService := service.NewAuthService(challengeStore, jwtTokenizer, eventPub, cfg.Domain)
	authService.SetChallengeTTL(cfg.ChallengeTTL)
	approvalService := service.NewApprovalService(jwtTokenizer, reconciliationStore, organizationStore, gateway, eventPub)

	// Pick up approvals whose ledger transaction outlived the previous
	// process.
	if err := approvalService.Resume(context.Background()); err != nil {
		log.Fatalf("Failed to resume in-flight approvals: %v", err)
	}

	router := http.SetupRouter(authService, approvalService)

	log.Infof("Listening on %s for domain %s.", cfg.ListenAddr, cfg.Domain)
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// buildLedgerGateway connects to the configured chain, or falls back to
// the in-process stub when no RPC endpoint is configured (local
// development).
func buildLedgerGateway(cfg config.LedgerConfig) (ports.LedgerGateway, error) {
	if cfg.RPCURL == "" {
		logging.Log().Warn("No ledger RPC endpoint configured, using the in-process stub gateway.")
		return ledger.NewStubGateway(), nil
	}

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, err
	}

	signerKey, err := crypto.HexToECDSA(cfg.SignerKeyHex)
	if err != nil {
		return nil, err
	}

	return ledger.NewEthGateway(
		client,
		common.HexToAddress(cfg.RegistryAddress),
		signerKey,
		big.NewInt(cfg.ChainID),
	)
}
