package blockchain

// Contract ABIs used by the settlement client. The token network contract
// hosts bilateral channels keyed by a bytes32 channel id; the token contract
// is a plain ERC-20.
const tokenNetworkABI = `[
  {
    "type": "function",
    "name": "openChannel",
    "inputs": [
      {"name": "participant2", "type": "address"},
      {"name": "settle_timeout", "type": "uint256"}
    ],
    "outputs": [{"name": "channel_id", "type": "bytes32"}],
    "stateMutability": "nonpayable"
  },
  {
    "type": "function",
    "name": "setTotalDeposit",
    "inputs": [
      {"name": "channel_id", "type": "bytes32"},
      {"name": "participant", "type": "address"},
      {"name": "total_deposit", "type": "uint256"}
    ],
    "outputs": [],
    "stateMutability": "nonpayable"
  },
  {
    "type": "function",
    "name": "cooperativeSettle",
    "inputs": [
      {"name": "channel_id", "type": "bytes32"},
      {"name": "participant1", "type": "address"},
      {"name": "transferred1", "type": "uint256"},
      {"name": "signature1", "type": "bytes"},
      {"name": "participant2", "type": "address"},
      {"name": "transferred2", "type": "uint256"},
      {"name": "signature2", "type": "bytes"}
    ],
    "outputs": [],
    "stateMutability": "nonpayable"
  },
  {
    "type": "event",
    "name": "ChannelOpened",
    "inputs": [
      {"name": "channel_id", "type": "bytes32", "indexed": true},
      {"name": "participant1", "type": "address", "indexed": true},
      {"name": "participant2", "type": "address", "indexed": true},
      {"name": "settle_timeout", "type": "uint256", "indexed": false}
    ],
    "anonymous": false
  },
  {
    "type": "event",
    "name": "ChannelSettled",
    "inputs": [
      {"name": "channel_id", "type": "bytes32", "indexed": true},
      {"name": "participant1_amount", "type": "uint256", "indexed": false},
      {"name": "participant2_amount", "type": "uint256", "indexed": false}
    ],
    "anonymous": false
  }
]`

const erc20ABI = `[
  {
    "type": "function",
    "name": "approve",
    "inputs": [
      {"name": "spender", "type": "address"},
      {"name": "value", "type": "uint256"}
    ],
    "outputs": [{"name": "", "type": "bool"}],
    "stateMutability": "nonpayable"
  },
  {
    "type": "function",
    "name": "allowance",
    "inputs": [
      {"name": "owner", "type": "address"},
      {"name": "spender", "type": "address"}
    ],
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view"
  },
  {
    "type": "function",
    "name": "balanceOf",
    "inputs": [{"name": "owner", "type": "address"}],
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view"
  }
]`
