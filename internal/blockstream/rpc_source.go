package blockstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"solana-trade-indexer/internal/domain"
)

// RPCSource fetches blocks over HTTP JSON-RPC. It serves backfill and
// gap repair (Fetcher) and tip discovery (TipReader); live tailing goes
// through the websocket source.
type RPCSource struct {
	endpoint  string
	client    *http.Client
	requestID atomic.Uint64
}

// NewRPCSource creates an RPC source for the given http:// endpoint.
// httpClient may be nil for a default with a 30s timeout.
func NewRPCSource(endpoint string, httpClient *http.Client) *RPCSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RPCSource{endpoint: endpoint, client: httpClient}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (s *RPCSource) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      s.requestID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, httpResp.StatusCode)
	}

	var resp rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %w", method, resp.Error)
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// TipSlot implements TipReader.
func (s *RPCSource) TipSlot(ctx context.Context) (int64, error) {
	var slot int64
	if err := s.call(ctx, "getSlot", []interface{}{map[string]string{"commitment": "confirmed"}}, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// FetchBlocks implements Fetcher. Slots skipped by the chain are absent
// from the result; blocks come back in ascending slot order.
func (s *RPCSource) FetchBlocks(ctx context.Context, fromSlot, toSlot int64) ([]domain.Block, error) {
	if toSlot < fromSlot {
		return nil, fmt.Errorf("invalid range [%d, %d]", fromSlot, toSlot)
	}
	blocks := make([]domain.Block, 0, toSlot-fromSlot+1)
	for slot := fromSlot; slot <= toSlot; slot++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var raw *wireBlock
		err := s.call(ctx, "getBlock", []interface{}{slot, map[string]string{"commitment": "confirmed"}}, &raw)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", slot, err)
		}
		if raw == nil {
			// Skipped slot.
			continue
		}
		if raw.Slot == 0 {
			raw.Slot = slot
		}
		blocks = append(blocks, decodeBlock(*raw))
	}
	return blocks, nil
}
