package httpapi

import (
	"context"
	"encoding/hex"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agentmesh/agentmesh-go/pkg/blockchain"
	"github.com/agentmesh/agentmesh-go/pkg/config"
	"github.com/agentmesh/agentmesh-go/pkg/payment"
	"github.com/agentmesh/agentmesh-go/pkg/xrpl"
)

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	n := s.node
	ctx, cancel := context.WithTimeout(r.Context(), n.Config().Timeouts.ChainRead)
	defer cancel()

	inbound := make(map[string]string)
	for peer, bal := range n.InboundBalances() {
		inbound[peer] = bal.String()
	}
	out := map[string]interface{}{
		"success": true,
		"inbound": inbound,
	}

	if cli := n.EVMClient(); cli != nil {
		evm := map[string]interface{}{
			"account": cli.Account().Hex(),
		}
		if bal, err := cli.TokenBalance(ctx, cli.Account()); err == nil {
			evm["token"] = bal.String()
			evm["tokenDecimal"] = blockchain.BaseToTokens(bal).String()
		} else {
			evm["error"] = err.Error()
		}
		if bal, err := cli.NativeBalance(ctx, cli.Account()); err == nil {
			evm["native"] = bal.String()
		}
		if engine := n.EVM(); engine != nil {
			evm["channels"] = engine.Snapshot()
		}
		out["evm"] = evm
	}
	if cli := n.XRPClient(); cli != nil {
		engine := n.XRP()
		xrp := map[string]interface{}{}
		if engine != nil {
			xrp["account"] = engine.Account()
			xrp["channels"] = engine.Snapshot()
			if info, err := cli.AccountInfo(ctx, engine.Account()); err == nil {
				xrp["drops"] = info.Balance
				if v, err := xrpl.DropsToXRP(info.Balance); err == nil {
					xrp["xrp"] = v.String()
				}
			}
		}
		out["xrp"] = xrp
	}
	respond(w, http.StatusOK, out)
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	engine := s.node.EVM()
	if engine == nil {
		respondErr(w, http.StatusBadRequest, "settlement chain is not configured")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"channels": engine.Snapshot(),
	})
}

func (s *Server) handleChannelOpen(w http.ResponseWriter, r *http.Request) {
	engine := s.node.EVM()
	if engine == nil {
		respondErr(w, http.StatusBadRequest, "settlement chain is not configured")
		return
	}
	var req struct {
		PeerID         string `json:"peerId"`
		PeerEVMAddress string `json:"peerEvmAddress"`
		DepositAmount  string `json:"depositAmount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.PeerEVMAddress) {
		respondErr(w, http.StatusBadRequest, "malformed peerEvmAddress")
		return
	}
	deposit, ok := new(big.Int).SetString(req.DepositAmount, 10)
	if !ok || deposit.Sign() <= 0 {
		respondErr(w, http.StatusBadRequest, "malformed depositAmount")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.node.Config().Timeouts.ChainSubmit)
	defer cancel()
	ch, err := engine.Open(ctx, req.PeerID, common.HexToAddress(req.PeerEVMAddress), deposit)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"success": true, "channel": ch})
}

func (s *Server) handleSignProof(w http.ResponseWriter, r *http.Request) {
	engine := s.node.EVM()
	if engine == nil {
		respondErr(w, http.StatusBadRequest, "settlement chain is not configured")
		return
	}
	var req struct {
		ChannelID         string `json:"channelId"`
		Nonce             uint64 `json:"nonce"`
		TransferredAmount string `json:"transferredAmount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	transferred, ok := new(big.Int).SetString(req.TransferredAmount, 10)
	if !ok || transferred.Sign() < 0 {
		respondErr(w, http.StatusBadRequest, "malformed transferredAmount")
		return
	}
	sig, signer, err := engine.SignProof(req.ChannelID, req.Nonce, transferred)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"signature": "0x" + hex.EncodeToString(sig),
		"signer":    signer.Hex(),
	})
}

func (s *Server) handleCooperativeSettle(w http.ResponseWriter, r *http.Request) {
	engine := s.node.EVM()
	if engine == nil {
		respondErr(w, http.StatusBadRequest, "settlement chain is not configured")
		return
	}
	var req struct {
		ChannelID          string `json:"channelId"`
		PartnerAccount     string `json:"partnerAccount"`
		PartnerTransferred string `json:"partnerTransferred"`
		PartnerSignature   string `json:"partnerSignature"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.PartnerAccount) {
		respondErr(w, http.StatusBadRequest, "malformed partnerAccount")
		return
	}
	transferred, ok := new(big.Int).SetString(req.PartnerTransferred, 10)
	if !ok || transferred.Sign() < 0 {
		respondErr(w, http.StatusBadRequest, "malformed partnerTransferred")
		return
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(req.PartnerSignature, "0x"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "malformed partnerSignature")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.node.Config().Timeouts.ChainSubmit)
	defer cancel()
	txHash, err := engine.Settle(ctx, req.ChannelID, payment.RemoteProof{
		Account:     common.HexToAddress(req.PartnerAccount),
		Transferred: transferred,
		Signature:   sig,
	})
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"txHash":  txHash.Hex(),
	})
}

func (s *Server) handleXRPChannels(w http.ResponseWriter, _ *http.Request) {
	engine := s.node.XRP()
	if engine == nil {
		respondErr(w, http.StatusBadRequest, "ledger client is not configured")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"channels": engine.Snapshot(),
	})
}

func (s *Server) handleXRPChannelOpen(w http.ResponseWriter, r *http.Request) {
	engine := s.node.XRP()
	if engine == nil {
		respondErr(w, http.StatusBadRequest, "ledger client is not configured")
		return
	}
	var req struct {
		PeerID      string `json:"peerId"`
		Destination string `json:"destination"`
		Amount      string `json:"amount"`
		SettleDelay uint32 `json:"settleDelay"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Destination == "" || req.Amount == "" {
		respondErr(w, http.StatusBadRequest, "destination and amount are required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.node.Config().Timeouts.ChainSubmit)
	defer cancel()
	ch, err := engine.Open(ctx, req.PeerID, req.Destination, req.Amount, req.SettleDelay)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"success": true, "channel": ch})
}

func (s *Server) handleXRPChannelClaim(w http.ResponseWriter, r *http.Request) {
	engine := s.node.XRP()
	if engine == nil {
		respondErr(w, http.StatusBadRequest, "ledger client is not configured")
		return
	}
	var req struct {
		ChannelID string `json:"channelId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.node.Config().Timeouts.ChainSubmit)
	defer cancel()
	claimed, txHash, err := engine.Claim(ctx, req.ChannelID)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"claimed": claimed,
		"txHash":  txHash,
	})
}

func (s *Server) handleConfigureEVM(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RPCAddr      string `json:"rpcAddr"`
		TokenNetwork string `json:"tokenNetwork"`
		Token        string `json:"token"`
		PrivateKey   string `json:"privateKey"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RPCAddr == "" || req.TokenNetwork == "" || req.Token == "" {
		respondErr(w, http.StatusBadRequest, "rpcAddr, tokenNetwork and token are required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.node.Config().Timeouts.Dial)
	defer cancel()
	err := s.node.ConfigureEVM(ctx, config.EVMConfig{
		RPCAddr:      req.RPCAddr,
		TokenNetwork: req.TokenNetwork,
		Token:        req.Token,
		PrivateKey:   req.PrivateKey,
	})
	if err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleConfigureXRP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WSSURL  string `json:"wssUrl"`
		Network string `json:"network"`
		Secret  string `json:"secret"`
		Account string `json:"account"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.WSSURL == "" || req.Secret == "" || req.Account == "" {
		respondErr(w, http.StatusBadRequest, "wssUrl, secret and account are required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.node.Config().Timeouts.Dial)
	defer cancel()
	err := s.node.ConfigureXRP(ctx, config.XRPConfig{
		Enabled: true,
		WSSURL:  req.WSSURL,
		Network: req.Network,
		Secret:  req.Secret,
		Account: req.Account,
	})
	if err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"success": true})
}
