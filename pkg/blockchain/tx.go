package blockchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// transactOpts creates a transactor bound to the stored chain id and
// settlement key, with ctx attached so submissions honor deadlines.
func (evm *EVMClient) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(evm.privKey, evm.chainID)
	if err != nil {
		return nil, fmt.Errorf("blockchain: create transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// WaitForTransaction polls for a transaction receipt with exponential backoff,
// until receipt is available, context is done, or an error occurs. If maxBackoff
// is non-zero, backoff will not exceed it. It returns an error if the tx is reverted.
func (evm *EVMClient) WaitForTransaction(ctx context.Context, txHash common.Hash, maxBackoff time.Duration) (*types.Receipt, error) {
	backoff := time.Second
	for {
		receipt, err := evm.Client.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return nil, fmt.Errorf("tx reverted: %s", txHash)
			}
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if maxBackoff == 0 || backoff < maxBackoff {
				backoff *= 2
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			return nil, fmt.Errorf("receipt error: %w", err)
		}
	}
}
