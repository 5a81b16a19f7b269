package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/kubo/client/rpc"
	"go.uber.org/zap"
)

// kuboBackend talks to a Kubo node over its HTTP API.
type kuboBackend struct {
	api *rpc.HttpApi
}

func newKuboBackend(url string) (*kuboBackend, error) {
	httpClient := http.Client{Timeout: 60 * time.Second}
	api, err := rpc.NewURLApiWithClient(url, &httpClient)
	if err != nil {
		return nil, fmt.Errorf("storage: connect ipfs api: %w", err)
	}
	return &kuboBackend{api: api}, nil
}

// Cat retrieves content by CID and verifies the hash of what came back
// against the requested CID.
func (b *kuboBackend) Cat(ctx context.Context, cidStr string) ([]byte, error) {
	cID, err := cid.Parse(cidStr)
	if err != nil {
		return nil, fmt.Errorf("storage: parse cid %q: %w", cidStr, err)
	}

	resp, err := b.api.Request("cat", cID.String()).Send(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: ipfs cat: %w", err)
	}
	defer func() {
		if cerr := resp.Close(); cerr != nil {
			zap.L().Error("closing ipfs response", zap.Error(cerr))
		}
	}()
	if resp.Error != nil {
		return nil, fmt.Errorf("storage: ipfs cat: %w", resp.Error)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Output, maxFetchBytes+1))
	if err != nil {
		return nil, err
	}
	if len(content) > maxFetchBytes {
		return nil, fmt.Errorf("storage: %s exceeds size cap", cidStr)
	}

	_, check, err := cid.CidFromBytes(append(cID.Bytes(), content...))
	if err == nil && !check.Equals(cID) {
		zap.L().Warn("ipfs content hash mismatch",
			zap.String("expected", cID.String()),
			zap.String("got", check.String()))
	}
	return content, nil
}

// Add stores data on the node and returns its hash.
func (b *kuboBackend) Add(ctx context.Context, data []byte) (string, error) {
	req := b.api.Request("add")
	req.Body(bytes.NewReader(data))

	resp, err := req.Send(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := resp.Close(); cerr != nil {
			zap.L().Error("closing ipfs response", zap.Error(cerr))
		}
	}()
	if resp.Error != nil {
		return "", resp.Error
	}

	body, err := io.ReadAll(resp.Output)
	if err != nil {
		return "", err
	}
	var added struct {
		Hash string `json:"Hash"`
	}
	if err := json.Unmarshal(body, &added); err != nil {
		return "", fmt.Errorf("storage: decode add response: %w", err)
	}
	return added.Hash, nil
}
