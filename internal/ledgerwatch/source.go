// Package ledgerwatch polls the settlement rails for transaction
// confirmations and feeds them through the reconciliation pipeline.
package ledgerwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/aurumvault/metalex_unified/internal/reconcile"
)

// ConfirmationSource reports the status of one watched transaction hash on a
// settlement rail. The reconciliation core treats every rail identically
// above this interface.
type ConfirmationSource interface {
	Network() string
	TransactionStatus(ctx context.Context, txHash string) (reconcile.ConfirmationUpdate, error)
}

// EVMSource reads confirmation state from an EVM-compatible chain.
type EVMSource struct {
	client  *ethclient.Client
	network string
}

// NewEVMSource dials the EVM RPC endpoint.
func NewEVMSource(rpcURL, network string) (*EVMSource, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial EVM rpc: %w", err)
	}
	return &EVMSource{client: client, network: network}, nil
}

func (e *EVMSource) Network() string { return e.network }

// TransactionStatus maps the receipt lookup onto the canonical confirmation
// vocabulary. A missing receipt means the transaction is still pending.
func (e *EVMSource) TransactionStatus(ctx context.Context, txHash string) (reconcile.ConfirmationUpdate, error) {
	receipt, err := e.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return reconcile.ConfirmationUpdate{TxHash: txHash, Status: "pending"}, nil
	}
	update := reconcile.ConfirmationUpdate{
		TxHash:      txHash,
		BlockOrSlot: receipt.BlockNumber.Uint64(),
	}
	if receipt.Status == 1 {
		update.Status = "confirmed"
	} else {
		update.Status = "failed"
	}
	return update, nil
}

// HTTPSource reads confirmation state from a JSON endpoint of the form
// GET {base}/transactions/{hash} -> {"status": "...", "block": N}. The
// second-chain gateway and the private permissioned ledger both expose this
// shape.
type HTTPSource struct {
	baseURL string
	network string
	client  *http.Client
}

// NewHTTPSource creates a confirmation source over a ledger gateway.
func NewHTTPSource(baseURL, network string) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		network: network,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPSource) Network() string { return h.network }

func (h *HTTPSource) TransactionStatus(ctx context.Context, txHash string) (reconcile.ConfirmationUpdate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/transactions/"+txHash, nil)
	if err != nil {
		return reconcile.ConfirmationUpdate{}, fmt.Errorf("failed to build confirmation request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return reconcile.ConfirmationUpdate{}, fmt.Errorf("confirmation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return reconcile.ConfirmationUpdate{TxHash: txHash, Status: "pending"}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return reconcile.ConfirmationUpdate{}, fmt.Errorf("confirmation endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
		Block  uint64 `json:"block"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return reconcile.ConfirmationUpdate{}, fmt.Errorf("failed to decode confirmation response: %w", err)
	}

	return reconcile.ConfirmationUpdate{
		TxHash:      txHash,
		Status:      body.Status,
		BlockOrSlot: body.Block,
	}, nil
}
