// Package suichain implements chainadapter.Adapter for the
// resource/object-style "B-chain" (Sui) described in spec.md §6: an
// escrow object shared for interaction, an owner capability required
// for refund, and a registry object carrying a hash→escrow-id index.
//
// No Sui SDK appears anywhere in the retrieval pack (see DESIGN.md);
// Sui's public surface is plain JSON-RPC, so this adapter speaks it
// directly over net/http + encoding/json, the same way the teacher
// pack's own services reach for bare net/http when no client library
// is warranted (contract-data-processor/go/server/health.go's
// http.Server, stellar-postgres-ingester's use of database/sql without
// an ORM).
package suichain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/DevJSter/eth-suiResolver/internal/chainadapter"
	"github.com/DevJSter/eth-suiResolver/internal/hashlock"
	"github.com/DevJSter/eth-suiResolver/internal/obslog"
	"github.com/DevJSter/eth-suiResolver/internal/swaperrors"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

// Signer is the key-custody collaborator this adapter delegates to.
type Signer interface {
	Address() string
	SignAndExecute(ctx context.Context, call MoveCall) (txDigest string, err error)
}

// MoveCall is an opaque Move-call description the Signer executes;
// its shape is owned by the key-provider collaborator, not this
// package (key custody is explicitly out of scope per spec.md §1).
type MoveCall struct {
	PackageID string
	Module    string
	Function  string
	Arguments []any
}

// Config configures one Sui adapter instance.
type Config struct {
	RPCEndpoint    string
	PackageID      string
	RegistryObject string
	FinalityDepth  uint64
	RateLimitRPS   float64
}

// Adapter talks to the B-chain escrow/registry Move objects over the
// Sui JSON-RPC API.
type Adapter struct {
	cfg     Config
	http    *http.Client
	signer  Signer
	limiter *rate.Limiter
	logger  *obslog.Logger
}

func New(cfg Config, signer Signer, logger *obslog.Logger) *Adapter {
	return &Adapter{
		cfg:     cfg,
		http:    &http.Client{Timeout: 15 * time.Second},
		signer:  signer,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1),
		logger:  logger.Component("chainadapter_b"),
	}
}

func (a *Adapter) Ledger() swaptypes.Ledger { return swaptypes.LedgerB }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (a *Adapter) call(ctx context.Context, method string, params []any, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("suichain: encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.RPCEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("suichain: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.http.Do(req)
	if err != nil {
		return swaperrors.Wrap(swaperrors.KindDisconnected, "rpc_call_failed", "calling sui rpc "+method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return swaperrors.Wrap(swaperrors.KindUnavailable, "rpc_decode_failed", "decoding sui rpc response", err)
	}
	if rpcResp.Error != nil {
		return swaperrors.New(swaperrors.KindUnavailable, "rpc_error", rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

type escrowObjectFields struct {
	Owner       string `json:"owner"`
	Beneficiary string `json:"beneficiary"`
	TokenType   string `json:"token_type"`
	Amount      string `json:"amount"`
	Digest      string `json:"digest"`
	AlgoFlag    int    `json:"algo_flag"`
	StartMs     string `json:"start_ms"`
	DurationMs  string `json:"duration_ms"`
	Withdrawn   bool   `json:"withdrawn"`
	Refunded    bool   `json:"refunded"`
}

type suiObjectResponse struct {
	Data struct {
		ObjectID string `json:"objectId"`
		Content  struct {
			Fields escrowObjectFields `json:"fields"`
		} `json:"content"`
	} `json:"data"`
}

func (a *Adapter) CreateEscrow(ctx context.Context, p chainadapter.CreateParams) (chainadapter.CreateResult, error) {
	call := MoveCall{
		PackageID: a.cfg.PackageID,
		Module:    "htlc_escrow",
		Function:  "create",
		Arguments: []any{
			hashlock.EncodeHex(p.Digest), uint8(p.Algorithm), p.Beneficiary, p.Amount, p.LockDurationMs,
		},
	}
	digest, err := a.signer.SignAndExecute(ctx, call)
	if err != nil {
		return chainadapter.CreateResult{}, classifySubmitErr(err)
	}
	// The created object id surfaces via the registry; the caller
	// resolves it with FindEscrowsByDigest once the tx is final,
	// mirroring evmchain's deferred-id resolution.
	return chainadapter.CreateResult{EscrowID: swaptypes.EscrowID(digest), TxRef: digest}, nil
}

func (a *Adapter) Withdraw(ctx context.Context, escrowID swaptypes.EscrowID, secret swaptypes.Secret) (chainadapter.TxResult, error) {
	esc, err := a.GetEscrow(ctx, escrowID)
	if err != nil {
		return chainadapter.TxResult{}, err
	}
	if esc.Withdrawn {
		return chainadapter.TxResult{}, swaperrors.New(swaperrors.KindAlreadyProcessed, "already_withdrawn", "escrow already withdrawn")
	}
	if esc.Refunded {
		return chainadapter.TxResult{}, swaperrors.New(swaperrors.KindAlreadyProcessed, "already_refunded", "escrow already refunded")
	}
	if !hashlock.Verify(secret, esc.Lock.Digest, esc.Lock.Algorithm) {
		return chainadapter.TxResult{}, swaperrors.New(swaperrors.KindInvalidSecret, "secret_mismatch", "secret does not hash to escrow digest")
	}
	call := MoveCall{
		PackageID: a.cfg.PackageID,
		Module:    "htlc_escrow",
		Function:  "withdraw",
		Arguments: []any{string(escrowID), hashlock.EncodeHex(secret)},
	}
	digest, err := a.signer.SignAndExecute(ctx, call)
	if err != nil {
		return chainadapter.TxResult{}, classifySubmitErr(err)
	}
	return chainadapter.TxResult{TxRef: digest}, nil
}

func (a *Adapter) Refund(ctx context.Context, escrowID swaptypes.EscrowID) (chainadapter.TxResult, error) {
	esc, err := a.GetEscrow(ctx, escrowID)
	if err != nil {
		return chainadapter.TxResult{}, err
	}
	if esc.Refunded {
		return chainadapter.TxResult{}, swaperrors.New(swaperrors.KindAlreadyProcessed, "already_refunded", "escrow already refunded")
	}
	if esc.Withdrawn {
		return chainadapter.TxResult{}, swaperrors.New(swaperrors.KindAlreadyProcessed, "already_withdrawn", "escrow already withdrawn")
	}
	if swaptypes.NowMs() <= esc.Lock.DeadlineMs() {
		return chainadapter.TxResult{}, swaperrors.New(swaperrors.KindNotExpired, "not_expired", "refund attempted before deadline")
	}
	call := MoveCall{
		PackageID: a.cfg.PackageID,
		Module:    "htlc_escrow",
		Function:  "refund",
		Arguments: []any{string(escrowID)},
	}
	digest, err := a.signer.SignAndExecute(ctx, call)
	if err != nil {
		return chainadapter.TxResult{}, classifySubmitErr(err)
	}
	return chainadapter.TxResult{TxRef: digest}, nil
}

func (a *Adapter) GetEscrow(ctx context.Context, escrowID swaptypes.EscrowID) (*swaptypes.Escrow, error) {
	var obj suiObjectResponse
	err := a.call(ctx, "sui_getObject", []any{string(escrowID), map[string]bool{"showContent": true}}, &obj)
	if err != nil {
		return nil, err
	}
	if obj.Data.ObjectID == "" {
		return nil, swaperrors.New(swaperrors.KindNotFound, "escrow_not_found", "escrow object not found")
	}
	return decodeEscrow(escrowID, obj.Data.Content.Fields)
}

type registryEntry struct {
	Digest   string `json:"digest"`
	EscrowID string `json:"escrow_id"`
}

func (a *Adapter) FindEscrowsByDigest(ctx context.Context, digest swaptypes.Digest) ([]swaptypes.EscrowID, error) {
	var entries []registryEntry
	err := a.call(ctx, "suix_queryEvents", []any{
		map[string]any{"MoveEventField": map[string]string{"path": "/digest", "value": hashlock.EncodeHex(digest)}},
	}, &entries)
	if err != nil {
		return nil, err
	}
	ids := make([]swaptypes.EscrowID, 0, len(entries))
	for _, e := range entries {
		if e.Digest == hashlock.EncodeHex(digest) {
			ids = append(ids, swaptypes.EscrowID(e.EscrowID))
		}
	}
	return ids, nil
}

type checkpointEvent struct {
	Kind        string `json:"kind"`
	EscrowID    string `json:"escrow_id"`
	Digest      string `json:"digest"`
	AlgoFlag    int    `json:"algo_flag"`
	Owner       string `json:"owner"`
	Beneficiary string `json:"beneficiary"`
	Amount      string `json:"amount"`
	TokenType   string `json:"token_type"`
	StartMs     string `json:"start_ms"`
	DurationMs  string `json:"duration_ms"`
	Secret      string `json:"secret,omitempty"`
	TxDigest    string `json:"tx_digest"`
	Checkpoint  string `json:"checkpoint"`
	EventSeq    uint32 `json:"event_seq"`
}

func (a *Adapter) SubscribeEscrowEvents(ctx context.Context, from swaptypes.EventCursor) (chainadapter.EventPage, error) {
	var raw []checkpointEvent
	err := a.call(ctx, "suix_queryEvents", []any{
		map[string]any{"Package": a.cfg.PackageID},
		fmt.Sprintf("%d", from.Height),
		100,
		false,
	}, &raw)
	if err != nil {
		return chainadapter.EventPage{}, err
	}

	events := make([]swaptypes.EscrowEvent, 0, len(raw))
	var maxHeight uint64 = from.Height
	for _, re := range raw {
		ev, height, ok := decodeCheckpointEvent(re)
		if !ok {
			continue
		}
		if height > maxHeight {
			maxHeight = height
		}
		events = append(events, ev)
	}

	// B-chain finality is near-instant (checkpoint-based); the
	// configured finality depth still gates how far back we trust an
	// unconfirmed checkpoint.
	if maxHeight > a.cfg.FinalityDepth {
		maxHeight -= a.cfg.FinalityDepth
	}
	return chainadapter.EventPage{
		Events:     events,
		NextCursor: swaptypes.EventCursor{Ledger: swaptypes.LedgerB, Height: maxHeight, UpdatedMs: swaptypes.NowMs()},
	}, nil
}

func (a *Adapter) SubmitAndWait(ctx context.Context, tx chainadapter.Tx) (chainadapter.Receipt, error) {
	digest := fmt.Sprint(tx.Payload)
	for {
		var status struct {
			Checkpoint string `json:"checkpoint"`
		}
		if err := a.call(ctx, "sui_getTransactionBlock", []any{digest, map[string]bool{"showEffects": true}}, &status); err == nil && status.Checkpoint != "" {
			return chainadapter.Receipt{TxRef: digest, Confirmations: a.cfg.FinalityDepth, BlockHeight: 0}, nil
		}
		select {
		case <-ctx.Done():
			return chainadapter.Receipt{}, swaperrors.Wrap(swaperrors.KindTimeout, "wait_timeout", "waiting for finality", ctx.Err())
		case <-time.After(1 * time.Second):
		}
	}
}

func (a *Adapter) CheckStake(ctx context.Context, minStake uint64) error {
	var balance struct {
		TotalBalance string `json:"totalBalance"`
	}
	if err := a.call(ctx, "suix_getBalance", []any{a.signer.Address()}, &balance); err != nil {
		return err
	}
	var amount uint64
	if _, err := fmt.Sscanf(balance.TotalBalance, "%d", &amount); err != nil {
		return fmt.Errorf("suichain: parsing balance: %w", err)
	}
	if amount < minStake {
		return swaperrors.New(swaperrors.KindRejected, "insufficient_stake", "resolver balance below required stake")
	}
	return nil
}

func decodeEscrow(id swaptypes.EscrowID, f escrowObjectFields) (*swaptypes.Escrow, error) {
	digest, err := hashlock.DecodeDigestHex(f.Digest)
	if err != nil {
		return nil, fmt.Errorf("suichain: decoding digest: %w", err)
	}
	var amount, startMs, durationMs uint64
	fmt.Sscanf(f.Amount, "%d", &amount)
	fmt.Sscanf(f.StartMs, "%d", &startMs)
	fmt.Sscanf(f.DurationMs, "%d", &durationMs)

	return &swaptypes.Escrow{
		ID:          id,
		Ledger:      swaptypes.LedgerB,
		Owner:       f.Owner,
		Beneficiary: f.Beneficiary,
		Asset:       swaptypes.Asset{Ledger: swaptypes.LedgerB, TokenRef: f.TokenType, Amount: amount},
		Lock: swaptypes.Lock{
			Digest:     digest,
			Algorithm:  swaptypes.Algorithm(f.AlgoFlag),
			StartMs:    int64(startMs),
			DurationMs: int64(durationMs),
		},
		Withdrawn: f.Withdrawn,
		Refunded:  f.Refunded,
	}, nil
}

func decodeCheckpointEvent(re checkpointEvent) (swaptypes.EscrowEvent, uint64, bool) {
	var height uint64
	fmt.Sscanf(re.Checkpoint, "%d", &height)

	ev := swaptypes.EscrowEvent{
		Ledger:      swaptypes.LedgerB,
		EscrowID:    swaptypes.EscrowID(re.EscrowID),
		TxRef:       re.TxDigest,
		BlockHeight: height,
		EventIndex:  re.EventSeq,
		ObservedMs:  swaptypes.NowMs(),
	}
	switch re.Kind {
	case "Created":
		digest, err := hashlock.DecodeDigestHex(re.Digest)
		if err != nil {
			return ev, height, false
		}
		var amount, startMs, durationMs uint64
		fmt.Sscanf(re.Amount, "%d", &amount)
		fmt.Sscanf(re.StartMs, "%d", &startMs)
		fmt.Sscanf(re.DurationMs, "%d", &durationMs)
		ev.Kind = swaptypes.EventCreated
		ev.Digest = digest
		ev.Algorithm = swaptypes.Algorithm(re.AlgoFlag)
		ev.Owner = re.Owner
		ev.Beneficiary = re.Beneficiary
		ev.Amount = amount
		ev.TokenRef = re.TokenType
		ev.LockStartMs = int64(startMs)
		ev.LockDurationMs = int64(durationMs)
	case "Withdrawn":
		secret, err := hashlock.DecodeSecretHex(re.Secret)
		if err != nil {
			return ev, height, false
		}
		ev.Kind = swaptypes.EventWithdrawn
		ev.Secret = &secret
	case "Refunded":
		ev.Kind = swaptypes.EventRefunded
	default:
		return ev, height, false
	}
	return ev, height, true
}

func classifySubmitErr(err error) error {
	if se, ok := err.(*swaperrors.Error); ok {
		return se
	}
	return swaperrors.Wrap(swaperrors.KindTransient, "submit_failed", "submitting B-chain transaction", err)
}
