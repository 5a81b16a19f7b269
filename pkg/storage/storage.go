package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// IpfsPrefix is the URI scheme recognized for IPFS content.
	IpfsPrefix = "ipfs://"

	// maxFetchBytes caps a single fetched artifact.
	maxFetchBytes = 10 << 20

	// DefaultInlineLimit is the result size above which callers should
	// upload content instead of inlining it.
	DefaultInlineLimit = 64 << 10
)

// ErrUnsupportedScheme is returned for URIs that are neither ipfs:// nor
// http(s)://.
var ErrUnsupportedScheme = errors.New("storage: unsupported URI scheme")

// IPFSBackend is the node-API half of the client. *kuboBackend implements it
// over the Kubo HTTP API; tests substitute a fake.
type IPFSBackend interface {
	Cat(ctx context.Context, cid string) ([]byte, error)
	Add(ctx context.Context, data []byte) (string, error)
}

// Client fetches job inputs and stores oversized results. IPFS content goes
// through the configured node API first and falls back to a public gateway;
// plain URLs are fetched directly.
type Client struct {
	ipfs    IPFSBackend
	gateway string
	http    *http.Client
}

// NewClient builds a Client. ipfsURL points at a Kubo API ("" disables the
// node path and leaves only the gateway); gatewayURL is the fallback
// gateway base, e.g. "https://ipfs.io".
func NewClient(ipfsURL, gatewayURL string) *Client {
	c := &Client{
		gateway: strings.TrimSuffix(gatewayURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	if ipfsURL != "" {
		backend, err := newKuboBackend(ipfsURL)
		if err != nil {
			zap.L().Warn("ipfs api unavailable, gateway only",
				zap.String("url", ipfsURL), zap.Error(err))
		} else {
			c.ipfs = backend
		}
	}
	return c
}

// Fetch retrieves the content behind a job-input URI. ipfs:// URIs resolve
// through the node API with a gateway fallback; http(s):// URIs are fetched
// directly. Responses are capped at 10 MiB.
func (c *Client) Fetch(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, IpfsPrefix):
		return c.fetchIPFS(ctx, formatCID(uri))
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return c.fetchHTTP(ctx, uri)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, uri)
	}
}

func (c *Client) fetchIPFS(ctx context.Context, cidStr string) ([]byte, error) {
	if c.ipfs != nil {
		data, err := c.ipfs.Cat(ctx, cidStr)
		if err == nil {
			return data, nil
		}
		zap.L().Warn("ipfs cat failed, trying gateway",
			zap.String("cid", cidStr), zap.Error(err))
	}
	if c.gateway == "" {
		return nil, errors.New("storage: no IPFS node and no gateway configured")
	}
	return c.fetchHTTP(ctx, c.gateway+"/ipfs/"+cidStr)
}

func (c *Client) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxFetchBytes {
		return nil, errors.New("storage: artifact exceeds size cap")
	}
	return data, nil
}

// UploadJSON serializes v and adds it to IPFS, returning an ipfs:// URI.
func (c *Client) UploadJSON(ctx context.Context, v interface{}) (string, error) {
	if c.ipfs == nil {
		return "", errors.New("storage: no IPFS node configured for uploads")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("storage: marshal: %w", err)
	}
	hash, err := c.ipfs.Add(ctx, data)
	if err != nil {
		return "", fmt.Errorf("storage: upload: %w", err)
	}
	return IpfsPrefix + hash, nil
}

var cidCharset = regexp.MustCompile("[^a-zA-Z0-9=]")

// formatCID strips the scheme prefix and any characters that cannot appear
// in a CID.
func formatCID(uri string) string {
	return cidCharset.ReplaceAllString(strings.TrimPrefix(uri, IpfsPrefix), "")
}
