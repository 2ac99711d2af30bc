package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/givechain/warden/core"
	"github.com/givechain/warden/ports"
)

// registryABI is the fragment of the on-chain registry this service calls.
// The contract itself is an external collaborator.
const registryABI = `[{"inputs":[{"internalType":"string","name":"entityId","type":"string"}],"name":"approveOrganization","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

// DefaultPollInterval paces receipt polling; confirmation is bounded by
// block production, not CPU.
const DefaultPollInterval = 5 * time.Second

// EthGateway implements the LedgerGateway interface against an Ethereum
// registry contract
type EthGateway struct {
	client       *ethclient.Client
	registry     common.Address
	signKey      *ecdsa.PrivateKey
	chainID      *big.Int
	contractABI  abi.ABI
	pollInterval time.Duration
}

// NewEthGateway creates a gateway bound to the registry contract at
// registry, submitting transactions signed with signKey
func NewEthGateway(client *ethclient.Client, registry common.Address, signKey *ecdsa.PrivateKey, chainID *big.Int) (ports.LedgerGateway, error) {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}

	return &EthGateway{
		client:       client,
		registry:     registry,
		signKey:      signKey,
		chainID:      chainID,
		contractABI:  parsed,
		pollInterval: DefaultPollInterval,
	}, nil
}

// SubmitApproval submits the approveOrganization transaction and returns
// its hash
func (g *EthGateway) SubmitApproval(ctx context.Context, entityID string) (string, error) {
	data, err := g.contractABI.Pack("approveOrganization", entityID)
	if err != nil {
		return "", fmt.Errorf("%w: failed to pack calldata: %v", core.ErrLedgerSubmissionFailed, err)
	}

	from := crypto.PubkeyToAddress(g.signKey.PublicKey)

	nonce, err := g.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("%w: failed to fetch nonce: %v", core.ErrLedgerSubmissionFailed, err)
	}

	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to suggest gas price: %v", core.ErrLedgerSubmissionFailed, err)
	}

	gasLimit, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &g.registry,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to estimate gas: %v", core.ErrLedgerSubmissionFailed, err)
	}

	tx := types.NewTransaction(nonce, g.registry, big.NewInt(0), gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(g.chainID), g.signKey)
	if err != nil {
		return "", fmt.Errorf("%w: failed to sign transaction: %v", core.ErrLedgerSubmissionFailed, err)
	}

	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrLedgerSubmissionFailed, err)
	}

	return signedTx.Hash().Hex(), nil
}

// WaitConfirmed polls for the transaction receipt until it is mined or
// ctx is done
func (g *EthGateway) WaitConfirmed(ctx context.Context, txID string) error {
	hash := common.HexToHash(txID)

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", txID)
			}
			return nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("failed to fetch receipt for %s: %w", txID, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
