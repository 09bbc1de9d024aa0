package anchor

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/supplychain-anchor/internal/models"
	"github.com/smartdevs17/supplychain-anchor/pkg/utils"
)

// anchorGasLimit covers a value-less transaction carrying 64 bytes of
// calldata (digest + idempotency key).
const anchorGasLimit = 60000

// EthereumConfig holds the network ledger configuration.
type EthereumConfig struct {
	NodeURL         string        `json:"node_url"`
	ChainID         int64         `json:"chain_id"`
	PrivateKey      string        `json:"private_key"`
	ContractAddress string        `json:"contract_address"`
	Confirmations   uint64        `json:"confirmations"`
	RequestTimeout  time.Duration `json:"request_timeout"`
}

// EthereumClient anchors digests on an Ethereum-compatible chain. The
// fingerprint travels in transaction calldata: 32 bytes of digest
// followed by 32 bytes of idempotency key. The transaction hash is the
// anchor reference.
type EthereumClient struct {
	client  *ethclient.Client
	config  *EthereumConfig
	key     *ecdsa.PrivateKey
	from    common.Address
	to      common.Address
	chainID *big.Int
	logger  *logrus.Logger
}

// NewEthereumClient dials the configured node and prepares the signer.
func NewEthereumClient(config *EthereumConfig) (*EthereumClient, error) {
	if config.NodeURL == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Ledger node URL is required")
	}
	if !utils.IsValidAddress(config.ContractAddress) {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid anchor contract address", config.ContractAddress)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(config.PrivateKey, "0x"))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid ledger private key", err.Error())
	}

	client, err := ethclient.Dial(config.NodeURL)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Failed to dial ledger node", err.Error())
	}

	return &EthereumClient{
		client:  client,
		config:  config,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		to:      common.HexToAddress(config.ContractAddress),
		chainID: big.NewInt(config.ChainID),
		logger:  utils.GetLogger(),
	}, nil
}

// Submit sends a signed anchoring transaction carrying the digest.
func (ec *EthereumClient) Submit(ctx context.Context, digest string, idempotencyKey string) (*models.AnchorReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, ec.config.RequestTimeout)
	defer cancel()

	data, err := buildCalldata(digest, idempotencyKey)
	if err != nil {
		return nil, &RejectedError{Reason: err.Error()}
	}

	nonce, err := ec.client.PendingNonceAt(ctx, ec.from)
	if err != nil {
		return nil, &TransientError{Op: "submit", Err: err}
	}

	gasPrice, err := ec.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &TransientError{Op: "submit", Err: err}
	}

	tx := types.NewTransaction(nonce, ec.to, big.NewInt(0), anchorGasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(ec.chainID), ec.key)
	if err != nil {
		return nil, &RejectedError{Reason: "failed to sign anchoring transaction: " + err.Error()}
	}

	if err := ec.client.SendTransaction(ctx, signedTx); err != nil {
		if classified := classifySendError(err); classified != nil {
			return nil, classified
		}
		// "already known": the prior ambiguous submission landed and
		// this is the same signed payload, so the hash below is valid.
	}

	ec.logger.WithFields(logrus.Fields{
		"tx_hash": signedTx.Hash().Hex(),
		"digest":  digest,
		"nonce":   nonce,
	}).Info("Anchoring transaction submitted")

	return &models.AnchorReceipt{
		AnchorReference: signedTx.Hash().Hex(),
		SubmittedAt:     time.Now().UTC(),
	}, nil
}

// GetStatus checks the receipt for an anchoring transaction.
func (ec *EthereumClient) GetStatus(ctx context.Context, anchorRef string) (*models.LedgerStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, ec.config.RequestTimeout)
	defer cancel()

	txHash := common.HexToHash(anchorRef)

	receipt, err := ec.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return ec.pendingStatus(ctx, txHash)
		}
		return nil, &TransientError{Op: "status", Err: err}
	}

	if receipt.Status == types.ReceiptStatusFailed {
		// The ledger executed and rejected the transaction; treat the
		// anchor as dropped so the coordinator can resubmit.
		return &models.LedgerStatus{Dropped: true}, nil
	}

	head, err := ec.client.BlockNumber(ctx)
	if err != nil {
		return nil, &TransientError{Op: "status", Err: err}
	}

	confirmations := uint64(0)
	if head >= receipt.BlockNumber.Uint64() {
		confirmations = head - receipt.BlockNumber.Uint64() + 1
	}

	return &models.LedgerStatus{
		Confirmed:      confirmations >= ec.config.Confirmations,
		BlockReference: receipt.BlockNumber.Uint64(),
		Confirmations:  confirmations,
	}, nil
}

// pendingStatus distinguishes a still-pending transaction from one the
// network no longer knows about.
func (ec *EthereumClient) pendingStatus(ctx context.Context, txHash common.Hash) (*models.LedgerStatus, error) {
	_, pending, err := ec.client.TransactionByHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrNotFound
		}
		return nil, &TransientError{Op: "status", Err: err}
	}
	if pending {
		return &models.LedgerStatus{Confirmed: false}, nil
	}
	return &models.LedgerStatus{Confirmed: false}, nil
}

// GetDigest extracts the anchored fingerprint from transaction calldata.
func (ec *EthereumClient) GetDigest(ctx context.Context, anchorRef string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ec.config.RequestTimeout)
	defer cancel()

	tx, _, err := ec.client.TransactionByHash(ctx, common.HexToHash(anchorRef))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return "", ErrNotFound
		}
		return "", &TransientError{Op: "digest", Err: err}
	}

	data := tx.Data()
	if len(data) < 32 {
		return "", ErrNotFound
	}
	return hex.EncodeToString(data[:32]), nil
}

// Ping checks node reachability.
func (ec *EthereumClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ec.config.RequestTimeout)
	defer cancel()

	if _, err := ec.client.BlockNumber(ctx); err != nil {
		return &TransientError{Op: "ping", Err: err}
	}
	return nil
}

// Close releases the underlying RPC connection.
func (ec *EthereumClient) Close() error {
	ec.client.Close()
	return nil
}

// buildCalldata packs the 32-byte digest and the keccak idempotency key
// into transaction calldata.
func buildCalldata(digest, idempotencyKey string) ([]byte, error) {
	digestBytes, err := hex.DecodeString(strings.TrimPrefix(digest, "0x"))
	if err != nil || len(digestBytes) != 32 {
		return nil, errors.New("digest must be a 32-byte hex string")
	}

	keyHash := crypto.Keccak256([]byte(idempotencyKey))

	data := make([]byte, 0, 64)
	data = append(data, digestBytes...)
	data = append(data, keyHash...)
	return data, nil
}

// classifySendError maps node errors onto the retry taxonomy.
// Nonce and fee races are retryable; signature, funding and policy
// failures are not.
func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "already known"),
		strings.Contains(msg, "known transaction"):
		// The node saw this transaction before; the prior ambiguous
		// submission actually landed.
		return nil
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "invalid sender"),
		strings.Contains(msg, "exceeds block gas limit"),
		strings.Contains(msg, "execution reverted"):
		return &RejectedError{Reason: err.Error()}
	default:
		return &TransientError{Op: "submit", Err: err}
	}
}
