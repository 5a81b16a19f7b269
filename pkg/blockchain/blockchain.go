package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// DefaultSettleTimeout is the channel settlement timeout in seconds.
const DefaultSettleTimeout = 3600

// settleNonceRetries bounds the nonce-escalation retries on settle.
const settleNonceRetries = 3

// EVMClient holds a connected ethclient.Client, bindings for the token
// network and token contracts, and the node's settlement identity.
type EVMClient struct {
	Client       *ethclient.Client
	TokenNetwork *bind.BoundContract
	Token        *bind.BoundContract

	networkABI  abi.ABI
	networkAddr common.Address
	tokenAddr   common.Address
	chainID     *big.Int
	privKey     *ecdsa.PrivateKey
	account     common.Address
	receiptWait time.Duration
}

// Options configures Dial.
type Options struct {
	// Endpoint is the RPC/WS endpoint URL to dial.
	Endpoint string
	// TokenNetwork and Token are the contract addresses, hex encoded.
	TokenNetwork string
	Token        string
	// PrivateKey is the hex settlement key.
	PrivateKey string
	// ReceiptWait bounds receipt polling; zero means 30s.
	ReceiptWait time.Duration
}

// Dial connects to an Ethereum endpoint and binds the token network and
// token contracts. Returns a ready-to-use EVMClient or an error.
func Dial(ctx context.Context, opts Options) (*EVMClient, error) {
	account, privKey, err := ParsePrivateKeyECDSA(opts.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("blockchain: parse private key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, opts.Endpoint)
	if err != nil {
		zap.L().Error("failed to dial ethereum endpoint",
			zap.String("endpoint", opts.Endpoint), zap.Error(err))
		return nil, err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("blockchain: chain id: %w", err)
	}

	networkABI, err := abi.JSON(strings.NewReader(tokenNetworkABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("blockchain: parse token network abi: %w", err)
	}
	tokenABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("blockchain: parse token abi: %w", err)
	}

	networkAddr := common.HexToAddress(opts.TokenNetwork)
	tokenAddr := common.HexToAddress(opts.Token)
	receiptWait := opts.ReceiptWait
	if receiptWait <= 0 {
		receiptWait = 30 * time.Second
	}

	return &EVMClient{
		Client:       client,
		TokenNetwork: bind.NewBoundContract(networkAddr, networkABI, client, client, client),
		Token:        bind.NewBoundContract(tokenAddr, tokenABI, client, client, client),
		networkABI:   networkABI,
		networkAddr:  networkAddr,
		tokenAddr:    tokenAddr,
		chainID:      chainID,
		privKey:      privKey,
		account:      account,
		receiptWait:  receiptWait,
	}, nil
}

// Close releases the underlying RPC client.
func (evm *EVMClient) Close() {
	evm.Client.Close()
}

// Account returns the settlement address derived from the private key.
func (evm *EVMClient) Account() common.Address { return evm.account }

// ChainID returns the connected chain's id.
func (evm *EVMClient) ChainID() *big.Int { return new(big.Int).Set(evm.chainID) }

// TokenNetworkAddress returns the bound token network contract address.
func (evm *EVMClient) TokenNetworkAddress() common.Address { return evm.networkAddr }

// Sign produces a personal-sign signature over message with the settlement
// key.
func (evm *EVMClient) Sign(message []byte) []byte {
	return GetSignature(message, evm.privKey)
}

// OpenChannel approves the token network for deposit, opens a channel toward
// partner, deposits, and returns the channel id extracted from the
// ChannelOpened log.
func (evm *EVMClient) OpenChannel(ctx context.Context, partner common.Address, deposit *big.Int, settleTimeout uint64) ([32]byte, common.Hash, error) {
	var channelID [32]byte
	if settleTimeout == 0 {
		settleTimeout = DefaultSettleTimeout
	}

	txOpts, err := evm.transactOpts(ctx)
	if err != nil {
		return channelID, common.Hash{}, err
	}
	callOpts := &bind.CallOpts{Context: ctx, From: evm.account}
	if err := evm.ensureAllowance(ctx, evm.networkAddr, deposit, callOpts, txOpts); err != nil {
		return channelID, common.Hash{}, fmt.Errorf("blockchain: approve deposit: %w", err)
	}

	tx, err := evm.TokenNetwork.Transact(txOpts, "openChannel", partner, new(big.Int).SetUint64(settleTimeout))
	if err != nil {
		return channelID, common.Hash{}, fmt.Errorf("blockchain: open channel: %w", err)
	}
	receipt, err := evm.WaitForTransaction(ctx, tx.Hash(), evm.receiptWait)
	if err != nil {
		return channelID, tx.Hash(), err
	}

	openedTopic := evm.networkABI.Events["ChannelOpened"].ID
	found := false
	for _, lg := range receipt.Logs {
		if lg.Address == evm.networkAddr && len(lg.Topics) > 1 && lg.Topics[0] == openedTopic {
			copy(channelID[:], lg.Topics[1].Bytes())
			found = true
			break
		}
	}
	if !found {
		return channelID, tx.Hash(), errors.New("blockchain: no ChannelOpened log in receipt")
	}

	if deposit != nil && deposit.Sign() > 0 {
		if _, err := evm.SetTotalDeposit(ctx, channelID, evm.account, deposit); err != nil {
			return channelID, tx.Hash(), err
		}
	}
	zap.L().Info("payment channel opened",
		zap.String("channelId", common.Hash(channelID).Hex()),
		zap.String("partner", partner.Hex()))
	return channelID, tx.Hash(), nil
}

// SetTotalDeposit raises participant's cumulative deposit in the channel.
func (evm *EVMClient) SetTotalDeposit(ctx context.Context, channelID [32]byte, participant common.Address, total *big.Int) (common.Hash, error) {
	txOpts, err := evm.transactOpts(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := evm.TokenNetwork.Transact(txOpts, "setTotalDeposit", channelID, participant, total)
	if err != nil {
		return common.Hash{}, fmt.Errorf("blockchain: set total deposit: %w", err)
	}
	if _, err := evm.WaitForTransaction(ctx, tx.Hash(), evm.receiptWait); err != nil {
		return tx.Hash(), err
	}
	return tx.Hash(), nil
}

// SettleSide is one participant's half of a cooperative settle.
type SettleSide struct {
	Participant common.Address
	Transferred *big.Int
	Signature   []byte
}

// CooperativeSettle submits the settle transaction carrying both
// counter-signed halves. Nonce failures are retried with the sequence
// escalated by the attempt number; the deep proof check happens on-chain.
func (evm *EVMClient) CooperativeSettle(ctx context.Context, channelID [32]byte, side1, side2 SettleSide) (common.Hash, error) {
	var lastErr error
	for attempt := 0; attempt <= settleNonceRetries; attempt++ {
		nonce, err := evm.Client.PendingNonceAt(ctx, evm.account)
		if err != nil {
			return common.Hash{}, fmt.Errorf("blockchain: fetch nonce: %w", err)
		}
		txOpts, err := evm.transactOpts(ctx)
		if err != nil {
			return common.Hash{}, err
		}
		txOpts.Nonce = new(big.Int).SetUint64(nonce + uint64(attempt))

		tx, err := evm.TokenNetwork.Transact(txOpts, "cooperativeSettle",
			channelID,
			side1.Participant, side1.Transferred, side1.Signature,
			side2.Participant, side2.Transferred, side2.Signature)
		if err != nil {
			if isNonceError(err) {
				lastErr = err
				zap.L().Warn("settle nonce clash, escalating sequence",
					zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			return common.Hash{}, fmt.Errorf("blockchain: cooperative settle: %w", err)
		}
		if _, err := evm.WaitForTransaction(ctx, tx.Hash(), evm.receiptWait); err != nil {
			return tx.Hash(), err
		}
		return tx.Hash(), nil
	}
	return common.Hash{}, fmt.Errorf("blockchain: cooperative settle: nonce retries exhausted: %w", lastErr)
}

// isNonceError matches the error strings chains return for stale or reused
// transaction sequences.
func isNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce")
}

// TokenBalance returns the account's ERC-20 token balance.
func (evm *EVMClient) TokenBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	var out []interface{}
	err := evm.Token.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("blockchain: token balance: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// NativeBalance returns the account's native-coin balance.
func (evm *EVMClient) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	bal, err := evm.Client.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("blockchain: native balance: %w", err)
	}
	return bal, nil
}

// ensureAllowance checks the ERC-20 allowance toward spender and, when it is
// below need, approves the maximum value and waits for the approval to mine.
func (evm *EVMClient) ensureAllowance(ctx context.Context, spender common.Address, need *big.Int, call *bind.CallOpts, txOpts *bind.TransactOpts) error {
	if need == nil || need.Sign() <= 0 {
		return nil
	}
	var out []interface{}
	if err := evm.Token.Call(call, &out, "allowance", evm.account, spender); err != nil {
		return err
	}
	allowance := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	if allowance.Cmp(need) >= 0 {
		return nil
	}
	tx, err := evm.Token.Transact(txOpts, "approve", spender, maxUint256)
	if err != nil {
		return err
	}
	_, err = evm.WaitForTransaction(ctx, tx.Hash(), evm.receiptWait)
	return err
}
