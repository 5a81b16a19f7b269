// Package config provides configuration management for an agent node.
//
// The Config structure controls node identity, listener ports, the AI
// dispatcher, both settlement substrates, rate limits and operation
// timeouts. A Config is typically assembled from the environment:
//
//	cfg, err := config.FromEnv()
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// An optional YAML file may overlay the environment before validation:
//
//	cfg.LoadFile("agent.yaml")
//
// # Environment variables
//
// The canonical variable names are part of the deployment contract:
//
//	AGENT_ID, AGENT_PUBKEY, AGENT_PRIVKEY
//	AGENT_HTTP_PORT, AGENT_BTP_PORT, AGENT_EXPLORER_PORT
//	AGENT_DATABASE_PATH, AGENT_EXPLORER_DB_PATH
//	AI_AGENT_ENABLED, AI_AGENT_MODEL, AI_API_KEY
//	AI_MAX_TOKENS_PER_REQUEST, AI_MAX_TOKENS_PER_HOUR
//	ANVIL_RPC_URL, TOKEN_NETWORK_ADDRESS, AGENT_TOKEN_ADDRESS
//	XRP_ENABLED, XRPL_WSS_URL, XRPL_NETWORK
//	XRPL_ACCOUNT_SECRET, XRPL_ACCOUNT_ADDRESS
//
// # Validation
//
// Always call Validate() to apply defaults and check required fields.
// Validate fills ports, database paths, AI limits, the routing address and
// timeouts, and errors when the agent id or private key is missing, when AI
// is enabled without an API key, or when XRP is enabled without its
// endpoint and account.
//
// # Thread safety
//
// Config instances are created once at boot and read-only afterwards.
package config
