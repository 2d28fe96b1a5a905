package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tunegrid-rewardplane/pkg/config"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("chain",
	fx.Provide(ProvideAdapter),
)

// ProvideAdapter returns the bridge-backed adapter, or the disabled adapter
// when no bridge is configured.
func ProvideAdapter(cfg *config.Config) Adapter {
	if !cfg.Chain.Enable || cfg.Chain.BridgeURL == "" {
		zap.L().Info("[Chain] settlement disabled, withdrawals will queue for manual batch")
		return Disabled()
	}
	return NewBridgeClient(cfg)
}

// BridgeClient talks to the token-custody signer bridge, the sidecar holding
// the operator key. Every transfer request is bounded by the configured
// timeout; the compensating-refund path handles anything slower.
type BridgeClient struct {
	baseURL     string
	apiKey      string
	explorerURL string
	http        *http.Client
}

func NewBridgeClient(cfg *config.Config) *BridgeClient {
	timeout := cfg.Chain.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BridgeClient{
		baseURL:     cfg.Chain.BridgeURL,
		apiKey:      cfg.Chain.APIKey,
		explorerURL: cfg.Chain.ExplorerURL,
		http:        &http.Client{Timeout: timeout},
	}
}

func (c *BridgeClient) Enabled() bool { return true }

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type transferResponse struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	Error       string `json:"error,omitempty"`
	Code        string `json:"code,omitempty"`
}

func (c *BridgeClient) Transfer(ctx context.Context, walletAddress string, amount decimal.Decimal) (*Receipt, error) {
	body, err := json.Marshal(transferRequest{To: walletAddress, Amount: amount.String()})
	if err != nil {
		return nil, &TransferError{Wallet: walletAddress, Reason: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, &TransferError{Wallet: walletAddress, Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransferError{Wallet: walletAddress, Reason: "bridge unreachable", Err: err}
	}
	defer resp.Body.Close()

	var out transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransferError{Wallet: walletAddress, Reason: "decode response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		if out.Code == "INSUFFICIENT_OPERATOR_FUNDS" {
			return nil, ErrInsufficientOperatorFunds
		}
		reason := out.Error
		if reason == "" {
			reason = fmt.Sprintf("bridge returned %d", resp.StatusCode)
		}
		return nil, &TransferError{Wallet: walletAddress, Reason: reason}
	}

	return &Receipt{
		TxHash:      out.TxHash,
		BlockNumber: out.BlockNumber,
		ExplorerURL: c.explorer(out.TxHash),
	}, nil
}

func (c *BridgeClient) explorer(txHash string) string {
	if c.explorerURL == "" || txHash == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", c.explorerURL, txHash)
}
