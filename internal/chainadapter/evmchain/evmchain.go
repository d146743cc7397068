// Package evmchain implements chainadapter.Adapter for the EVM-style
// "A-chain" escrow contract described in spec.md §6, built on
// go-ethereum's ethclient/abi/bind stack — the teacher pack's own
// dependency (go-ethereum is both a full example repo in the retrieval
// pack and a transitive dependency of orbas1-Synnergy).
package evmchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/DevJSter/eth-suiResolver/internal/chainadapter"
	"github.com/DevJSter/eth-suiResolver/internal/hashlock"
	"github.com/DevJSter/eth-suiResolver/internal/obslog"
	"github.com/DevJSter/eth-suiResolver/internal/swaperrors"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

// Signer is the key-custody collaborator this adapter delegates to
// (spec.md §1: key custody is explicitly out of scope for the core).
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Config configures one EVM adapter instance.
type Config struct {
	Endpoint        string
	EscrowContract  common.Address
	FinalityDepth   uint64
	RateLimitRPS    float64
}

// Adapter talks to the A-chain HTLC escrow contract over JSON-RPC.
type Adapter struct {
	cfg     Config
	client  *ethclient.Client
	abi     abi.ABI
	signer  Signer
	limiter *rate.Limiter
	logger  *obslog.Logger
}

// escrowABIJSON is the minimal ABI surface the coordinator needs
// against the abstract contract shape in spec.md §6: create/withdraw/
// refund plus the Created/Withdrawn/Refunded events.
const escrowABIJSON = `[
 {"type":"function","name":"create","stateMutability":"nonpayable",
  "inputs":[{"name":"digest","type":"bytes32"},{"name":"algorithmFlag","type":"uint8"},
  {"name":"beneficiary","type":"address"},{"name":"amount","type":"uint256"},
  {"name":"lockDuration","type":"uint256"}],
  "outputs":[{"name":"escrowId","type":"bytes32"}]},
 {"type":"function","name":"withdraw","stateMutability":"nonpayable",
  "inputs":[{"name":"escrowId","type":"bytes32"},{"name":"secret","type":"bytes32"}],
  "outputs":[]},
 {"type":"function","name":"refund","stateMutability":"nonpayable",
  "inputs":[{"name":"escrowId","type":"bytes32"}],"outputs":[]},
 {"type":"function","name":"getEscrow","stateMutability":"view",
  "inputs":[{"name":"escrowId","type":"bytes32"}],
  "outputs":[{"name":"owner","type":"address"},{"name":"beneficiary","type":"address"},
  {"name":"token","type":"address"},{"name":"amount","type":"uint256"},
  {"name":"digest","type":"bytes32"},{"name":"algorithmFlag","type":"uint8"},
  {"name":"deadline","type":"uint256"},{"name":"withdrawn","type":"bool"},
  {"name":"refunded","type":"bool"}]},
 {"type":"event","name":"Created","anonymous":false,
  "inputs":[{"name":"escrowId","type":"bytes32","indexed":true},
  {"name":"owner","type":"address","indexed":true},
  {"name":"beneficiary","type":"address","indexed":true},
  {"name":"digest","type":"bytes32","indexed":false},
  {"name":"algorithmFlag","type":"uint8","indexed":false},
  {"name":"deadline","type":"uint256","indexed":false},
  {"name":"amount","type":"uint256","indexed":false}]},
 {"type":"event","name":"Withdrawn","anonymous":false,
  "inputs":[{"name":"escrowId","type":"bytes32","indexed":true},
  {"name":"caller","type":"address","indexed":true},
  {"name":"secret","type":"bytes32","indexed":false}]},
 {"type":"event","name":"Refunded","anonymous":false,
  "inputs":[{"name":"escrowId","type":"bytes32","indexed":true},
  {"name":"owner","type":"address","indexed":true}]}
]`

// New dials the EVM endpoint and prepares the escrow contract binding.
func New(ctx context.Context, cfg Config, signer Signer, logger *obslog.Logger) (*Adapter, error) {
	client, err := ethclient.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return nil, swaperrors.Wrap(swaperrors.KindUnavailable, "evm_dial_failed", "connecting to A-chain endpoint", err)
	}
	parsedABI, err := abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		return nil, fmt.Errorf("evmchain: parsing escrow ABI: %w", err)
	}
	return &Adapter{
		cfg:     cfg,
		client:  client,
		abi:     parsedABI,
		signer:  signer,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1),
		logger:  logger.Component("chainadapter_a"),
	}, nil
}

func (a *Adapter) Ledger() swaptypes.Ledger { return swaptypes.LedgerA }

func (a *Adapter) CreateEscrow(ctx context.Context, p chainadapter.CreateParams) (chainadapter.CreateResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return chainadapter.CreateResult{}, err
	}
	data, err := a.abi.Pack("create", p.Digest, uint8(p.Algorithm), common.HexToAddress(p.Beneficiary),
		new(big.Int).SetUint64(p.Amount), big.NewInt(p.LockDurationMs/1000))
	if err != nil {
		return chainadapter.CreateResult{}, fmt.Errorf("evmchain: packing create call: %w", err)
	}
	txRef, err := a.sendTransaction(ctx, data)
	if err != nil {
		return chainadapter.CreateResult{}, classifySubmitErr(err)
	}
	// The contract returns the escrow id via the Created log; the
	// caller re-derives identity by re-querying FindEscrowsByDigest
	// once the tx is mined, matching the idempotent-submit contract
	// of spec.md §4.2.
	return chainadapter.CreateResult{EscrowID: swaptypes.EscrowID(txRef), TxRef: txRef}, nil
}

func (a *Adapter) Withdraw(ctx context.Context, escrowID swaptypes.EscrowID, secret swaptypes.Secret) (chainadapter.TxResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return chainadapter.TxResult{}, err
	}
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
	data, err := a.abi.Pack("withdraw", escrowIDToHash(escrowID), [32]byte(secret))
	if err != nil {
		return chainadapter.TxResult{}, fmt.Errorf("evmchain: packing withdraw call: %w", err)
	}
	txRef, err := a.sendTransaction(ctx, data)
	if err != nil {
		return chainadapter.TxResult{}, classifySubmitErr(err)
	}
	return chainadapter.TxResult{TxRef: txRef}, nil
}

func (a *Adapter) Refund(ctx context.Context, escrowID swaptypes.EscrowID) (chainadapter.TxResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return chainadapter.TxResult{}, err
	}
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
	data, err := a.abi.Pack("refund", escrowIDToHash(escrowID))
	if err != nil {
		return chainadapter.TxResult{}, fmt.Errorf("evmchain: packing refund call: %w", err)
	}
	txRef, err := a.sendTransaction(ctx, data)
	if err != nil {
		return chainadapter.TxResult{}, classifySubmitErr(err)
	}
	return chainadapter.TxResult{TxRef: txRef}, nil
}

func (a *Adapter) GetEscrow(ctx context.Context, escrowID swaptypes.EscrowID) (*swaptypes.Escrow, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	data, err := a.abi.Pack("getEscrow", escrowIDToHash(escrowID))
	if err != nil {
		return nil, fmt.Errorf("evmchain: packing getEscrow call: %w", err)
	}
	out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &a.cfg.EscrowContract, Data: data}, nil)
	if err != nil {
		return nil, swaperrors.Wrap(swaperrors.KindUnavailable, "eth_call_failed", "reading escrow state", err)
	}
	vals, err := a.abi.Unpack("getEscrow", out)
	if err != nil {
		return nil, fmt.Errorf("evmchain: unpacking getEscrow result: %w", err)
	}
	return decodeEscrow(escrowID, vals)
}

func (a *Adapter) FindEscrowsByDigest(ctx context.Context, digest swaptypes.Digest) ([]swaptypes.EscrowID, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	topic := common.Hash(digest)
	logs, err := a.client.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{a.cfg.EscrowContract},
		Topics:    [][]common.Hash{{a.abi.Events["Created"].ID}, nil, nil, nil},
	})
	if err != nil {
		return nil, swaperrors.Wrap(swaperrors.KindUnavailable, "filter_logs_failed", "finding escrows by digest", err)
	}
	var ids []swaptypes.EscrowID
	for _, lg := range logs {
		ev, err := a.abi.Unpack("Created", lg.Data)
		if err != nil || len(ev) == 0 {
			continue
		}
		if d, ok := ev[0].([32]byte); ok && common.Hash(d) == topic {
			ids = append(ids, swaptypes.EscrowID(lg.Topics[1].Hex()))
		}
	}
	return ids, nil
}

func (a *Adapter) SubscribeEscrowEvents(ctx context.Context, from swaptypes.EventCursor) (chainadapter.EventPage, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return chainadapter.EventPage{}, err
	}
	head, err := a.client.BlockNumber(ctx)
	if err != nil {
		return chainadapter.EventPage{}, swaperrors.Wrap(swaperrors.KindDisconnected, "block_number_failed", "reading chain head", err)
	}
	safeHead := head
	if safeHead > a.cfg.FinalityDepth {
		safeHead -= a.cfg.FinalityDepth
	} else {
		safeHead = 0
	}
	if safeHead <= from.Height {
		return chainadapter.EventPage{NextCursor: from}, nil
	}
	logs, err := a.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from.Height + 1),
		ToBlock:   new(big.Int).SetUint64(safeHead),
		Addresses: []common.Address{a.cfg.EscrowContract},
	})
	if err != nil {
		return chainadapter.EventPage{}, swaperrors.Wrap(swaperrors.KindUnavailable, "filter_logs_failed", "polling escrow events", err)
	}
	events := make([]swaptypes.EscrowEvent, 0, len(logs))
	for i, lg := range logs {
		ev, err := a.decodeLog(lg, uint32(i))
		if err != nil {
			a.logger.Warn().Err(err).Str("tx", lg.TxHash.Hex()).Msg("skipping undecodable log")
			continue
		}
		events = append(events, ev)
	}
	return chainadapter.EventPage{
		Events:     events,
		NextCursor: swaptypes.EventCursor{Ledger: swaptypes.LedgerA, Height: safeHead, UpdatedMs: swaptypes.NowMs()},
	}, nil
}

func (a *Adapter) SubmitAndWait(ctx context.Context, tx chainadapter.Tx) (chainadapter.Receipt, error) {
	hash := common.HexToHash(fmt.Sprint(tx.Payload))
	for {
		receipt, err := a.client.TransactionReceipt(ctx, hash)
		if err == nil {
			head, herr := a.client.BlockNumber(ctx)
			if herr == nil && head >= receipt.BlockNumber.Uint64()+a.cfg.FinalityDepth {
				return chainadapter.Receipt{
					TxRef:         hash.Hex(),
					Confirmations: head - receipt.BlockNumber.Uint64(),
					BlockHeight:   receipt.BlockNumber.Uint64(),
				}, nil
			}
		}
		select {
		case <-ctx.Done():
			return chainadapter.Receipt{}, swaperrors.Wrap(swaperrors.KindTimeout, "wait_timeout", "waiting for finality", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
}

func (a *Adapter) CheckStake(ctx context.Context, minStake uint64) error {
	bal, err := a.client.BalanceAt(ctx, a.signer.Address(), nil)
	if err != nil {
		return swaperrors.Wrap(swaperrors.KindUnavailable, "stake_check_failed", "reading resolver balance", err)
	}
	if bal.Cmp(new(big.Int).SetUint64(minStake)) < 0 {
		return swaperrors.New(swaperrors.KindRejected, "insufficient_stake", "resolver balance below required stake")
	}
	return nil
}

func (a *Adapter) sendTransaction(ctx context.Context, data []byte) (string, error) {
	nonce, err := a.client.PendingNonceAt(ctx, a.signer.Address())
	if err != nil {
		return "", swaperrors.Wrap(swaperrors.KindUnavailable, "nonce_failed", "reading pending nonce", err)
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", swaperrors.Wrap(swaperrors.KindUnavailable, "gas_price_failed", "suggesting gas price", err)
	}
	chainID, err := a.client.NetworkID(ctx)
	if err != nil {
		return "", swaperrors.Wrap(swaperrors.KindUnavailable, "chain_id_failed", "reading chain id", err)
	}
	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &a.cfg.EscrowContract,
		GasPrice: gasPrice,
		Gas:      300000,
		Data:     data,
	})
	signed, err := a.signer.SignTx(unsigned, chainID)
	if err != nil {
		return "", fmt.Errorf("evmchain: signing transaction: %w", err)
	}
	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

func (a *Adapter) decodeLog(lg types.Log, idx uint32) (swaptypes.EscrowEvent, error) {
	ev := swaptypes.EscrowEvent{
		Ledger:      swaptypes.LedgerA,
		TxRef:       lg.TxHash.Hex(),
		BlockHeight: lg.BlockNumber,
		EventIndex:  idx,
		ObservedMs:  swaptypes.NowMs(),
	}
	if len(lg.Topics) == 0 {
		return ev, fmt.Errorf("evmchain: log has no topics")
	}
	switch lg.Topics[0] {
	case a.abi.Events["Created"].ID:
		vals, err := a.abi.Unpack("Created", lg.Data)
		if err != nil || len(vals) < 4 {
			return ev, fmt.Errorf("evmchain: unpacking Created: %w", err)
		}
		ev.Kind = swaptypes.EventCreated
		ev.EscrowID = swaptypes.EscrowID(lg.Topics[1].Hex())
		ev.Owner = common.HexToAddress(lg.Topics[2].Hex()).Hex()
		ev.Beneficiary = common.HexToAddress(lg.Topics[3].Hex()).Hex()
		digest, _ := vals[0].([32]byte)
		ev.Digest = swaptypes.Digest(digest)
		flag, _ := vals[1].(uint8)
		ev.Algorithm = swaptypes.Algorithm(flag)
		deadline, _ := vals[2].(*big.Int)
		amount, _ := vals[3].(*big.Int)
		if deadline != nil {
			ev.LockDurationMs = deadline.Int64() * 1000
		}
		if amount != nil {
			ev.Amount = amount.Uint64()
		}
	case a.abi.Events["Withdrawn"].ID:
		vals, err := a.abi.Unpack("Withdrawn", lg.Data)
		if err != nil || len(vals) < 1 {
			return ev, fmt.Errorf("evmchain: unpacking Withdrawn: %w", err)
		}
		ev.Kind = swaptypes.EventWithdrawn
		ev.EscrowID = swaptypes.EscrowID(lg.Topics[1].Hex())
		secretBytes, _ := vals[0].([32]byte)
		secret := swaptypes.Secret(secretBytes)
		ev.Secret = &secret
	case a.abi.Events["Refunded"].ID:
		ev.Kind = swaptypes.EventRefunded
		ev.EscrowID = swaptypes.EscrowID(lg.Topics[1].Hex())
	default:
		return ev, fmt.Errorf("evmchain: unrecognized log topic %s", lg.Topics[0].Hex())
	}
	return ev, nil
}

func decodeEscrow(id swaptypes.EscrowID, vals []any) (*swaptypes.Escrow, error) {
	if len(vals) < 9 {
		return nil, fmt.Errorf("evmchain: unexpected getEscrow result shape")
	}
	owner, _ := vals[0].(common.Address)
	beneficiary, _ := vals[1].(common.Address)
	token, _ := vals[2].(common.Address)
	amount, _ := vals[3].(*big.Int)
	digest, _ := vals[4].([32]byte)
	flag, _ := vals[5].(uint8)
	deadline, _ := vals[6].(*big.Int)
	withdrawn, _ := vals[7].(bool)
	refunded, _ := vals[8].(bool)

	var amt uint64
	if amount != nil {
		amt = amount.Uint64()
	}
	var deadlineMs int64
	if deadline != nil {
		deadlineMs = deadline.Int64() * 1000
	}

	return &swaptypes.Escrow{
		ID:          id,
		Ledger:      swaptypes.LedgerA,
		Owner:       owner.Hex(),
		Beneficiary: beneficiary.Hex(),
		Asset:       swaptypes.Asset{Ledger: swaptypes.LedgerA, TokenRef: token.Hex(), Amount: amt},
		Lock: swaptypes.Lock{
			Digest:     swaptypes.Digest(digest),
			Algorithm:  swaptypes.Algorithm(flag),
			DurationMs: deadlineMs,
		},
		Withdrawn: withdrawn,
		Refunded:  refunded,
	}, nil
}

func escrowIDToHash(id swaptypes.EscrowID) [32]byte {
	return common.HexToHash(string(id))
}

func classifySubmitErr(err error) error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*swaperrors.Error); ok {
		return se
	}
	return swaperrors.Wrap(swaperrors.KindTransient, "submit_failed", "submitting A-chain transaction", err)
}
