package sendd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"payconfirm/core/invoice"
	"payconfirm/network"
)

// NodeClient exposes the minimal RPC surface required by the daemon.
type NodeClient interface {
	network.InfoFetcher
	DecodePayReq(ctx context.Context, payReq string) (invoice.PaymentRequest, error)
	NodeAlias(ctx context.Context, pubkey string) (string, error)
	PayInvoice(ctx context.Context, payReq string) (PaymentReceipt, error)
	ChannelBalance(ctx context.Context) (Balance, error)
}

// PaymentReceipt is returned by a successful pay_invoice call.
type PaymentReceipt struct {
	PaymentHash     string `json:"payment_hash"`
	PaymentPreimage string `json:"payment_preimage"`
	FeeSat          int64  `json:"fee_sat"`
}

// Balance is the node's spendable channel balance.
type Balance struct {
	LocalSat   int64 `json:"local_sat"`
	RemoteSat  int64 `json:"remote_sat"`
	PendingSat int64 `json:"pending_sat"`
}

// RPCError is a JSON-RPC error returned by the node. Its message is surfaced
// to the user verbatim.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// RPCNodeClient is a lightweight JSON-RPC client.
type RPCNodeClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

// NewRPCNodeClient constructs a new RPC client. timeout bounds every call,
// including payments.
func NewRPCNodeClient(baseURL, authToken string, timeout time.Duration) *RPCNodeClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RPCNodeClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *RPCNodeClient) GetInfo(ctx context.Context) (network.NodeInfo, error) {
	var info network.NodeInfo
	err := c.call(ctx, "get_info", []interface{}{}, &info)
	return info, err
}

func (c *RPCNodeClient) DecodePayReq(ctx context.Context, payReq string) (invoice.PaymentRequest, error) {
	var decoded struct {
		NumSatoshis int64  `json:"num_satoshis"`
		Description string `json:"description"`
		PaymentHash string `json:"payment_hash"`
		Destination string `json:"destination"`
	}
	if err := c.call(ctx, "decode_pay_req", []interface{}{payReq}, &decoded); err != nil {
		return invoice.PaymentRequest{}, err
	}
	return invoice.PaymentRequest{
		Invoice:     payReq,
		AmountSat:   decoded.NumSatoshis,
		Description: decoded.Description,
		PaymentHash: decoded.PaymentHash,
		Destination: decoded.Destination,
	}, nil
}

func (c *RPCNodeClient) NodeAlias(ctx context.Context, pubkey string) (string, error) {
	var info struct {
		Node struct {
			Alias string `json:"alias"`
		} `json:"node"`
	}
	if err := c.call(ctx, "get_node_info", []interface{}{pubkey}, &info); err != nil {
		return "", err
	}
	return info.Node.Alias, nil
}

func (c *RPCNodeClient) PayInvoice(ctx context.Context, payReq string) (PaymentReceipt, error) {
	var receipt struct {
		PaymentReceipt
		PaymentError string `json:"payment_error"`
	}
	if err := c.call(ctx, "pay_invoice", []interface{}{payReq}, &receipt); err != nil {
		return PaymentReceipt{}, err
	}
	if msg := strings.TrimSpace(receipt.PaymentError); msg != "" {
		return PaymentReceipt{}, &RPCError{Message: msg}
	}
	return receipt.PaymentReceipt, nil
}

func (c *RPCNodeClient) ChannelBalance(ctx context.Context) (Balance, error) {
	var balance Balance
	err := c.call(ctx, "channel_balance", []interface{}{}, &balance)
	return balance, err
}

func (c *RPCNodeClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	bodyStruct := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
	buf, err := json.Marshal(bodyStruct)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node rpc %s failed: status=%d", method, resp.StatusCode)
	}
	var rpcResp struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("node rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
