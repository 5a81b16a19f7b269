// Package blockchain provides the EVM settlement client for payment channels.
//
// The package wraps an ethclient connection with bindings for two contracts:
//
//  1. Token network contract:
//     - Hosts bilateral channels keyed by a bytes32 channel id
//     - openChannel / setTotalDeposit / cooperativeSettle
//     - Emits ChannelOpened and ChannelSettled events
//
//  2. ERC-20 token contract:
//     - Deposits and balances for the settlement token
//     - Allowance toward the token network is raised on demand
//
// # Usage
//
//	evm, err := blockchain.Dial(ctx, blockchain.Options{
//		Endpoint:     "ws://localhost:8545",
//		TokenNetwork: networkAddr,
//		Token:        tokenAddr,
//		PrivateKey:   hexKey,
//	})
//	if err != nil {
//		return err
//	}
//	defer evm.Close()
//
//	channelID, txHash, err := evm.OpenChannel(ctx, partner, deposit, 0)
//
// Transactions are submitted with a keyed transactor and confirmed by
// polling for the receipt with exponential backoff; reverted transactions
// surface as errors. Cooperative settles retry nonce clashes a bounded
// number of times with an escalated sequence.
//
// Signatures use the Ethereum personal-sign scheme over
// keccak256(message); GetSignature and RecoverSigner are the two halves
// used by the payment proof layer.
package blockchain
