package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LeJamon/xrplwatch/internal/core/XRPAmount"
	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Options configures a websocket Client.
type Options struct {
	URL            string
	RequestTimeout time.Duration
	PingInterval   time.Duration
	EventBuffer    int
}

func (o *Options) withDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 1024
	}
}

// Client speaks the rippled websocket JSON API. Requests are correlated with
// responses by id; everything else on the socket is treated as a stream
// message.
type Client struct {
	opts Options
	conn *websocket.Conn
	log  logrus.FieldLogger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *response

	events    chan StreamMessage
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Gateway = (*Client)(nil)

type response struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	Type         string          `json:"type"`
	Result       json.RawMessage `json:"result"`
	Error        string          `json:"error,omitempty"`
	ErrorCode    int             `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Dial connects to the ledger server at opts.URL and starts the read loop.
func Dial(ctx context.Context, opts Options, logger logrus.FieldLogger) (*Client, error) {
	opts.withDefaults()

	dialer := websocket.Dialer{HandshakeTimeout: opts.RequestTimeout}
	conn, _, err := dialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, networkError("dial "+opts.URL, err)
	}

	c := &Client{
		opts:    opts,
		conn:    conn,
		log:     logger.WithField("component", "gateway"),
		pending: make(map[string]chan *response),
		events:  make(chan StreamMessage, opts.EventBuffer),
		done:    make(chan struct{}),
	}

	if opts.PingInterval > 0 {
		wait := 2 * opts.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
		c.wg.Add(1)
		go c.pingLoop()
	}

	c.wg.Add(1)
	go c.readLoop()

	c.log.WithField("url", opts.URL).Info("Connected to ledger server")
	return c, nil
}

func (c *Client) Events() <-chan StreamMessage {
	return c.events
}

// Close shuts the connection down. The events channel is closed once the
// read loop has exited.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed() {
				c.log.WithError(err).Warn("Ledger stream read failed")
				c.emit(StreamMessage{Err: networkError("read", err)})
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.emit(StreamMessage{Err: fmt.Errorf("decode stream message: %w", err)})
		return
	}

	switch env.Type {
	case "response":
		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.log.WithError(err).Warn("Undecodable response")
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	case "transaction":
		msg, err := DecodeStream(data)
		if err != nil {
			c.emit(StreamMessage{Err: err})
			return
		}
		c.emit(StreamMessage{Transaction: msg})
	default:
		// ledgerClosed and friends are not consumed
	}
}

// emit never blocks the read loop: responses share the socket with stream
// messages, so a stalled consumer must not stall request/response traffic.
func (c *Client) emit(msg StreamMessage) {
	select {
	case c.events <- msg:
	default:
		c.log.WithField("buffer", cap(c.events)).Warn("Event buffer full, dropping stream message")
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.RequestTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.log.WithError(err).Warn("Ping failed")
				return
			}
		}
	}
}

// call sends command and decodes the result into out.
func (c *Client) call(ctx context.Context, command string, params map[string]interface{}, out interface{}) error {
	if c.closed() {
		return networkError(command, ErrClosed)
	}

	id := uuid.NewString()
	req := map[string]interface{}{"id": id, "command": command}
	for k, v := range params {
		req[k] = v
	}

	ch := make(chan *response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.RequestTimeout))
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return networkError(command, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		return networkError(command, ctx.Err())
	case <-c.done:
		return networkError(command, ErrClosed)
	case resp := <-ch:
		if resp.Status == "error" || resp.Error != "" {
			return &RPCError{Code: resp.ErrorCode, ErrorString: resp.Error, Message: resp.ErrorMessage}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", command, err)
		}
		return nil
	}
}

func (c *Client) Subscribe(ctx context.Context, address string) error {
	if err := c.call(ctx, "subscribe", map[string]interface{}{"accounts": []string{address}}, nil); err != nil {
		return fmt.Errorf("subscribe %s: %w", address, err)
	}
	return nil
}

func (c *Client) Unsubscribe(ctx context.Context, address string) error {
	if err := c.call(ctx, "unsubscribe", map[string]interface{}{"accounts": []string{address}}, nil); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", address, err)
	}
	return nil
}

type submitResult struct {
	EngineResult string `json:"engine_result"`
	TxJSON       struct {
		Hash string `json:"hash"`
		Fee  string `json:"Fee"`
	} `json:"tx_json"`
}

func (c *Client) Submit(ctx context.Context, txBlob string) (SubmitResult, error) {
	var res submitResult
	if err := c.call(ctx, "submit", map[string]interface{}{"tx_blob": txBlob}, &res); err != nil {
		return SubmitResult{}, fmt.Errorf("submit: %w", err)
	}
	out := SubmitResult{
		Hash:         res.TxJSON.Hash,
		EngineResult: res.EngineResult,
	}
	if res.TxJSON.Fee != "" {
		fee, err := XRPAmount.ParseDrops(res.TxJSON.Fee)
		if err != nil {
			c.log.WithError(err).WithField("hash", out.Hash).Debug("Submit reply carried an unreadable fee")
		} else {
			out.Fee = fee
		}
	}
	return out, nil
}

type accountInfoResult struct {
	AccountData struct {
		Balance    string `json:"Balance"`
		OwnerCount uint32 `json:"OwnerCount"`
		Sequence   uint32 `json:"Sequence"`
	} `json:"account_data"`
}

func (c *Client) AccountBalance(ctx context.Context, address string) (AccountBalance, error) {
	var res accountInfoResult
	params := map[string]interface{}{"account": address, "ledger_index": "validated"}
	if err := c.call(ctx, "account_info", params, &res); err != nil {
		return AccountBalance{}, fmt.Errorf("account_info %s: %w", address, err)
	}
	balance, err := XRPAmount.ParseDrops(res.AccountData.Balance)
	if err != nil {
		return AccountBalance{}, fmt.Errorf("account_info %s: %w", address, err)
	}
	return AccountBalance{
		Balance:    balance,
		OwnerCount: res.AccountData.OwnerCount,
		Sequence:   res.AccountData.Sequence,
	}, nil
}

type trustLine struct {
	Account  string `json:"account"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

type accountLinesResult struct {
	Lines  []trustLine     `json:"lines"`
	Marker json.RawMessage `json:"marker,omitempty"`
}

func (c *Client) TrustLineBalance(ctx context.Context, address, currency, issuer string) (decimal.Decimal, error) {
	params := map[string]interface{}{
		"account":      address,
		"peer":         issuer,
		"ledger_index": "validated",
	}
	for {
		var res accountLinesResult
		if err := c.call(ctx, "account_lines", params, &res); err != nil {
			return decimal.Zero, fmt.Errorf("account_lines %s: %w", address, err)
		}
		for _, line := range res.Lines {
			if line.Account != issuer || !types.SameCurrency(line.Currency, currency) {
				continue
			}
			balance, err := decimal.NewFromString(line.Balance)
			if err != nil {
				return decimal.Zero, fmt.Errorf("account_lines %s: balance %q: %w", address, line.Balance, err)
			}
			return balance, nil
		}
		if len(res.Marker) == 0 {
			return decimal.Zero, types.ErrTrustLineNotFound
		}
		params["marker"] = res.Marker
	}
}

type serverStateResult struct {
	State struct {
		ValidatedLedger *struct {
			BaseFee     int64  `json:"base_fee"`
			ReserveBase int64  `json:"reserve_base"`
			ReserveInc  int64  `json:"reserve_inc"`
			Seq         uint32 `json:"seq"`
		} `json:"validated_ledger"`
	} `json:"state"`
}

func (c *Client) FeeSchedule(ctx context.Context) (FeeSchedule, error) {
	var res serverStateResult
	if err := c.call(ctx, "server_state", nil, &res); err != nil {
		return FeeSchedule{}, fmt.Errorf("server_state: %w", err)
	}
	vl := res.State.ValidatedLedger
	if vl == nil {
		return FeeSchedule{}, networkError("server_state", errors.New("no validated ledger"))
	}
	return FeeSchedule{
		Fees: XRPAmount.NewFees(
			XRPAmount.NewXRPAmount(vl.BaseFee),
			XRPAmount.NewXRPAmount(vl.ReserveBase),
			XRPAmount.NewXRPAmount(vl.ReserveInc),
		),
		LedgerIndex: vl.Seq,
	}, nil
}

type txResult struct {
	Hash        string `json:"hash"`
	Validated   bool   `json:"validated"`
	LedgerIndex uint32 `json:"ledger_index"`
	Meta        *Meta  `json:"meta"`
}

func (c *Client) TransactionByHash(ctx context.Context, hash string) (TxStatus, error) {
	var res txResult
	if err := c.call(ctx, "tx", map[string]interface{}{"transaction": hash}, &res); err != nil {
		return TxStatus{}, fmt.Errorf("tx %s: %w", hash, err)
	}
	status := TxStatus{
		Hash:        hash,
		Validated:   res.Validated,
		LedgerIndex: res.LedgerIndex,
	}
	if res.Meta != nil {
		status.Result = res.Meta.TransactionResult
		if len(res.Meta.DeliveredAmount) > 0 {
			if amt, err := types.ParseAmount(res.Meta.DeliveredAmount); err == nil {
				status.DeliveredAmount = &amt
			}
		}
	}
	return status, nil
}
