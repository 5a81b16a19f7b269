package node

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agentmesh/agentmesh-go/pkg/agent"
	"github.com/agentmesh/agentmesh-go/pkg/blockchain"
	"github.com/agentmesh/agentmesh-go/pkg/btp"
	"github.com/agentmesh/agentmesh-go/pkg/config"
	"github.com/agentmesh/agentmesh-go/pkg/eventdb"
	"github.com/agentmesh/agentmesh-go/pkg/payment"
	"github.com/agentmesh/agentmesh-go/pkg/router"
	"github.com/agentmesh/agentmesh-go/pkg/skills"
	"github.com/agentmesh/agentmesh-go/pkg/storage"
	"github.com/agentmesh/agentmesh-go/pkg/telemetry"
	"github.com/agentmesh/agentmesh-go/pkg/xrpl"
)

// Options injects capabilities the config alone cannot build: a model client
// (tests use a scripted one) and a storage client. Nil fields fall back to
// what the config describes.
type Options struct {
	Model   agent.ModelClient
	Storage *storage.Client
}

// Node is the single owning value of one agent process. Every subsystem
// receives a reference to what it needs; nothing reaches for process-wide
// state.
type Node struct {
	cfg      *config.Config
	identity *Identity
	db       *eventdb.DB
	store    *telemetry.Store
	emitter  *telemetry.Emitter
	router   *router.Router
	registry *skills.Registry
	budget   *agent.Budget
	dispatch agent.Dispatcher
	storage  *storage.Client
	pending  *pendingTable
	metrics  *metrics
	server   *btp.Server

	chainMu   sync.RWMutex
	evmClient *blockchain.EVMClient
	evm       *payment.EVMEngine
	xrpClient *xrpl.Client
	xrp       *payment.XRPEngine

	connMu sync.RWMutex
	conns  map[string]*btp.Conn

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter

	balMu   sync.Mutex
	inbound map[string]*big.Int

	lifeMu   sync.Mutex
	started  bool
	listener net.Listener
	btpSrv   *http.Server
	quit     chan struct{}
	wg       sync.WaitGroup

	startedAt time.Time
}

// New builds a node from cfg. The config is validated (and defaulted) in
// place; the event database and telemetry store are opened here. The returned
// node is idle until Start.
func New(cfg *config.Config, opts Options) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	identity, err := NewIdentity(cfg.AgentID, cfg.Address, cfg.PrivKey)
	if err != nil {
		return nil, fmt.Errorf("node: identity: %w", err)
	}
	cfg.PubKey = identity.PubKey

	db, err := eventdb.Open(eventdb.Options{Path: cfg.DatabasePath})
	if err != nil {
		return nil, err
	}
	store, err := telemetry.OpenStore(cfg.ExplorerDBPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	n := &Node{
		cfg:      cfg,
		identity: identity,
		db:       db,
		store:    store,
		emitter:  telemetry.NewEmitter(cfg.AgentID, store, 0),
		router:   router.New(),
		registry: skills.NewRegistry(),
		storage:  opts.Storage,
		pending:  newPendingTable(),
		conns:    make(map[string]*btp.Conn),
		limiters: make(map[string]*rate.Limiter),
		inbound:  make(map[string]*big.Int),
		quit:     make(chan struct{}),
	}
	n.metrics = newMetrics(n.pending)
	n.budget = agent.NewBudget(cfg.AI.MaxTokensPerHour, agent.DefaultBudgetWindow,
		func(t telemetry.Type, fields map[string]interface{}) { n.emitter.Emit(t, fields) })

	if opts.Storage == nil && (cfg.Storage.IPFSAPIURL != "" || cfg.Storage.IPFSGatewayURL != "") {
		n.storage = storage.NewClient(cfg.Storage.IPFSAPIURL, cfg.Storage.IPFSGatewayURL)
	}

	model := opts.Model
	if model == nil && cfg.AI.Enabled {
		model = agent.NewHTTPModel(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model)
	}
	if err := n.registerBuiltins(model); err != nil {
		n.closeStores()
		return nil, err
	}

	direct := agent.NewDirectDispatcher(n.registry)
	prompts := agent.NewPromptBuilder(cfg.AgentID, identity.PubKey, cfg.Address, "", n.registry)
	n.dispatch = agent.NewAIDispatcher(n.registry, prompts, n.budget, model, direct, agent.AIOptions{
		Enabled:              cfg.AI.Enabled,
		FallbackOnExhaustion: cfg.AI.FallbackOnExhaustion,
		Timeout:              cfg.Timeouts.Model,
		MaxTokensPerRequest:  cfg.AI.MaxTokensPerRequest,
	})
	n.server = btp.NewServer(nil, n.HandlePacket, n.adoptPeer)
	return n, nil
}

// registerBuiltins installs the fixed skill set. The registry is read-only
// once the node is serving.
func (n *Node) registerBuiltins(model agent.ModelClient) error {
	var completer skills.TextCompleter
	if model != nil {
		completer = &modelCompleter{
			model:     model,
			timeout:   n.cfg.Timeouts.Model,
			maxTokens: n.cfg.AI.MaxTokensPerRequest,
		}
	}
	var fetcher skills.Fetcher
	if n.storage != nil {
		fetcher = n.storage
	}
	for _, s := range []*skills.Skill{
		skills.StoreEvent(n.db),
		skills.UpdateFollows(n.db, n.router),
		skills.DeleteEvents(n.db),
		skills.QueryEvents(n.db),
		skills.AgentInfo(n.registry),
		skills.ForwardEvent(n),
		skills.DVMJob(n.db, n.registry, completer, fetcher),
	} {
		if err := n.registry.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// modelCompleter adapts the model client to the plain text-in/text-out
// surface DVM text tasks need.
type modelCompleter struct {
	model     agent.ModelClient
	timeout   time.Duration
	maxTokens int64
}

const completerSystem = "You are a data-processing agent. Answer the task directly with plain text; do not call tools."

func (c *modelCompleter) CompleteText(ctx context.Context, prompt string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.model.Complete(ctx, agent.CompletionRequest{
		System:    completerSystem,
		Prompt:    prompt,
		MaxSteps:  1,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Start binds the peer listener and launches the pending-packet sweeper.
func (n *Node) Start() error {
	n.lifeMu.Lock()
	defer n.lifeMu.Unlock()
	if n.started {
		return fmt.Errorf("node: already started")
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", n.cfg.BTPPort))
	if err != nil {
		return fmt.Errorf("node: listen btp: %w", err)
	}
	n.listener = ln
	n.btpSrv = &http.Server{Handler: n.server}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.btpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			zap.L().Error("peer listener failed", zap.Error(err))
		}
	}()
	n.wg.Add(1)
	go n.sweepLoop()
	n.started = true
	n.startedAt = time.Now()
	zap.L().Info("node started",
		zap.String("agentId", n.cfg.AgentID),
		zap.String("address", n.cfg.Address),
		zap.Int("btpPort", n.cfg.BTPPort))
	return nil
}

// Stop tears the node down: close frames toward every peer, stop the
// listener, drain telemetry, release the chain clients and stores.
func (n *Node) Stop(ctx context.Context) error {
	n.lifeMu.Lock()
	if !n.started {
		n.lifeMu.Unlock()
		n.closeChains()
		n.closeStores()
		return nil
	}
	n.started = false
	n.lifeMu.Unlock()

	close(n.quit)

	n.connMu.Lock()
	conns := n.conns
	n.conns = make(map[string]*btp.Conn)
	n.connMu.Unlock()
	for _, c := range conns {
		c.Close()
	}

	var err error
	if n.btpSrv != nil {
		err = n.btpSrv.Shutdown(ctx)
	}
	n.wg.Wait()

	n.closeChains()
	n.closeStores()
	zap.L().Info("node stopped", zap.String("agentId", n.cfg.AgentID))
	return err
}

func (n *Node) closeStores() {
	n.emitter.Close()
	if n.store != nil {
		n.store.Close()
	}
	n.db.Close()
}

func (n *Node) closeChains() {
	n.chainMu.Lock()
	defer n.chainMu.Unlock()
	if n.evmClient != nil {
		n.evmClient.Close()
		n.evmClient = nil
	}
	if n.xrpClient != nil {
		n.xrpClient.Close()
		n.xrpClient = nil
	}
	n.evm, n.xrp = nil, nil
}

// sweepLoop drops pending records whose prepare expired without a response.
// The drop releases the peer for the next prepare; no channel mutation runs
// for a timed-out packet.
func (n *Node) sweepLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.Timeouts.PacketSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, p := range n.pending.Expired(time.Now()) {
				zap.L().Warn("outbound prepare expired without response",
					zap.String("peer", p.PeerID),
					zap.String("eventId", p.EventID),
					zap.String("amount", p.Amount.String()))
			}
		case <-n.quit:
			return
		}
	}
}

// ConfigureEVM late-binds the settlement chain. An existing binding is
// replaced and its client released.
func (n *Node) ConfigureEVM(ctx context.Context, ec config.EVMConfig) error {
	if ec.PrivateKey == "" {
		ec.PrivateKey = n.cfg.EVM.PrivateKey
	}
	if ec.PrivateKey == "" {
		ec.PrivateKey = n.cfg.PrivKey
	}
	cli, err := blockchain.Dial(ctx, blockchain.Options{
		Endpoint:     ec.RPCAddr,
		TokenNetwork: ec.TokenNetwork,
		Token:        ec.Token,
		PrivateKey:   ec.PrivateKey,
		ReceiptWait:  n.cfg.Timeouts.ReceiptWait,
	})
	if err != nil {
		return err
	}
	engine := payment.NewEVMEngine(cli, n.emitter)

	n.chainMu.Lock()
	old := n.evmClient
	n.evmClient, n.evm = cli, engine
	n.chainMu.Unlock()
	if old != nil {
		old.Close()
	}
	zap.L().Info("settlement chain configured",
		zap.String("rpc", ec.RPCAddr),
		zap.String("tokenNetwork", ec.TokenNetwork))
	return nil
}

// ConfigureXRP late-binds the ledger client. An existing binding is replaced
// and its client released.
func (n *Node) ConfigureXRP(ctx context.Context, xc config.XRPConfig) error {
	mode := xrpl.ModeStandalone
	if xc.Network == "live" {
		mode = xrpl.ModeLive
	}
	key, err := xrpl.KeyFromSeedHex(xc.Secret)
	if err != nil {
		return err
	}
	cli, err := xrpl.Dial(ctx, xc.WSSURL, mode)
	if err != nil {
		return err
	}
	engine := payment.NewXRPEngine(cli, payment.XRPWallet{
		Account: xc.Account,
		Secret:  xc.Secret,
		Key:     key,
	}, n.emitter)

	n.chainMu.Lock()
	old := n.xrpClient
	n.xrpClient, n.xrp = cli, engine
	n.chainMu.Unlock()
	if old != nil {
		old.Close()
	}
	zap.L().Info("ledger client configured",
		zap.String("url", xc.WSSURL),
		zap.String("network", xc.Network),
		zap.String("account", xc.Account))
	return nil
}

// engines returns the current channel engines; either may be nil.
func (n *Node) engines() (*payment.EVMEngine, *payment.XRPEngine) {
	n.chainMu.RLock()
	defer n.chainMu.RUnlock()
	return n.evm, n.xrp
}

// Connect establishes an outbound peer link and records the peer in the
// directory. The dial URL gains a peer query parameter naming this agent.
func (n *Node) Connect(ctx context.Context, peer router.Peer) error {
	if peer.ID == "" || peer.URL == "" {
		return fmt.Errorf("node: connect requires a peer id and url")
	}
	if peer.Address == "" {
		peer.Address = config.DefaultAddressPrefix + "." + peer.ID
	}
	dialURL, err := url.Parse(peer.URL)
	if err != nil {
		return fmt.Errorf("node: parse peer url: %w", err)
	}
	q := dialURL.Query()
	q.Set("peer", n.cfg.AgentID)
	dialURL.RawQuery = q.Encode()

	conn := btp.NewConn(dialURL.String(), peer.ID, n.HandlePacket, btp.ConnOptions{})
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	peer.Live = true
	if err := n.router.UpsertPeer(peer); err != nil {
		conn.Close()
		return err
	}
	n.installConn(peer.ID, conn)
	return nil
}

// adoptPeer is the inbound-link callback of the peer server.
func (n *Node) adoptPeer(peerID string, conn *btp.Conn) {
	if _, known := n.router.Peer(peerID); !known {
		n.router.UpsertPeer(router.Peer{
			ID:      peerID,
			Address: config.DefaultAddressPrefix + "." + peerID,
			Live:    true,
		})
	} else {
		n.router.SetLive(peerID, true)
	}
	n.installConn(peerID, conn)
}

// installConn stores the link, replacing (and closing) a previous one, and
// mirrors its status into the peer directory.
func (n *Node) installConn(peerID string, conn *btp.Conn) {
	n.connMu.Lock()
	old := n.conns[peerID]
	n.conns[peerID] = conn
	n.connMu.Unlock()
	if old != nil && old != conn {
		old.Close()
	}

	ch := make(chan btp.Status, 8)
	sub := conn.SubscribeStatus(ch)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer sub.Unsubscribe()
		for {
			select {
			case st := <-ch:
				n.router.SetLive(peerID, st == btp.StatusConnected)
			case <-n.quit:
				return
			}
		}
	}()
}

// conn returns the live link to peerID, or nil.
func (n *Node) conn(peerID string) *btp.Conn {
	n.connMu.RLock()
	defer n.connMu.RUnlock()
	return n.conns[peerID]
}

// limiter returns the inbound rate limiter for peerID, creating it on first
// contact.
func (n *Node) limiter(peerID string) *rate.Limiter {
	n.limitMu.Lock()
	defer n.limitMu.Unlock()
	l, ok := n.limiters[peerID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(n.cfg.PeerRatePerSecond), n.cfg.PeerRateBurst)
		n.limiters[peerID] = l
	}
	return l
}

// addInbound accumulates the fulfilled inbound amount for peerID and returns
// the running balance.
func (n *Node) addInbound(peerID string, amount *big.Int) *big.Int {
	n.balMu.Lock()
	defer n.balMu.Unlock()
	bal, ok := n.inbound[peerID]
	if !ok {
		bal = new(big.Int)
		n.inbound[peerID] = bal
	}
	bal.Add(bal, amount)
	return new(big.Int).Set(bal)
}

// resetInbound zeroes the running balance for peerID and returns what it was.
func (n *Node) resetInbound(peerID string) *big.Int {
	n.balMu.Lock()
	defer n.balMu.Unlock()
	bal, ok := n.inbound[peerID]
	if !ok {
		return new(big.Int)
	}
	out := new(big.Int).Set(bal)
	bal.SetInt64(0)
	return out
}

// InboundBalances returns a snapshot of the per-peer running balances.
func (n *Node) InboundBalances() map[string]*big.Int {
	n.balMu.Lock()
	defer n.balMu.Unlock()
	out := make(map[string]*big.Int, len(n.inbound))
	for peer, bal := range n.inbound {
		out[peer] = new(big.Int).Set(bal)
	}
	return out
}

// Accessors for the HTTP control surface. Reads are snapshots; none of these
// hand out mutable internals.

func (n *Node) Config() *config.Config        { return n.cfg }
func (n *Node) Identity() *Identity           { return n.identity }
func (n *Node) DB() *eventdb.DB               { return n.db }
func (n *Node) Emitter() *telemetry.Emitter   { return n.emitter }
func (n *Node) Router() *router.Router        { return n.router }
func (n *Node) Registry() *skills.Registry    { return n.registry }
func (n *Node) Budget() *agent.Budget         { return n.budget }
func (n *Node) PendingCount() int             { return n.pending.Len() }
func (n *Node) Gatherer() prometheus.Gatherer { return n.metrics.registry }
func (n *Node) StartedAt() time.Time          { return n.startedAt }

// TelemetryStore returns the persistent telemetry history.
func (n *Node) TelemetryStore() *telemetry.Store { return n.store }

// EVM returns the settlement-chain engine, or nil before ConfigureEVM.
func (n *Node) EVM() *payment.EVMEngine {
	n.chainMu.RLock()
	defer n.chainMu.RUnlock()
	return n.evm
}

// XRP returns the ledger engine, or nil before ConfigureXRP.
func (n *Node) XRP() *payment.XRPEngine {
	n.chainMu.RLock()
	defer n.chainMu.RUnlock()
	return n.xrp
}

// EVMClient returns the raw chain client, or nil before ConfigureEVM.
func (n *Node) EVMClient() *blockchain.EVMClient {
	n.chainMu.RLock()
	defer n.chainMu.RUnlock()
	return n.evmClient
}

// XRPClient returns the raw ledger client, or nil before ConfigureXRP.
func (n *Node) XRPClient() *xrpl.Client {
	n.chainMu.RLock()
	defer n.chainMu.RUnlock()
	return n.xrpClient
}
