// Package keysigner provides the minimal key-custody adapters the
// chain adapters delegate to (spec.md §1 places key custody explicitly
// out of scope for the coordinator's core, leaving "a key provider" as
// an opaque collaborator). These are local-process signers reading a
// hex-encoded private key named by a KeyRef env var — adequate for a
// single-operator devnet/testnet deployment; a production deployment
// swaps in an HSM- or KMS-backed Signer behind the same interfaces.
package keysigner

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/DevJSter/eth-suiResolver/internal/chainadapter/suichain"
)

// EVMKeySigner signs A-chain transactions with a local private key.
type EVMKeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewEVMKeySigner reads a hex-encoded secp256k1 private key from the
// environment variable named keyRef.
func NewEVMKeySigner(keyRef string) (*EVMKeySigner, error) {
	hexKey := os.Getenv(keyRef)
	if hexKey == "" {
		return nil, fmt.Errorf("keysigner: env var %s is empty", keyRef)
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("keysigner: parsing A-chain key: %w", err)
	}
	return &EVMKeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *EVMKeySigner) Address() common.Address { return s.address }

func (s *EVMKeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chainID)
	return types.SignTx(tx, signer, s.key)
}

// SuiKeySigner is a placeholder local signer for the B-chain adapter.
// Move-call signing is ledger-specific and outside anything the
// retrieval pack provides an SDK for; a real deployment replaces this
// with the vendor's wallet/signing library behind suichain.Signer.
type SuiKeySigner struct {
	address string
}

func NewSuiKeySigner(keyRef string) (*SuiKeySigner, error) {
	addr := os.Getenv(keyRef)
	if addr == "" {
		return nil, fmt.Errorf("keysigner: env var %s is empty", keyRef)
	}
	return &SuiKeySigner{address: addr}, nil
}

func (s *SuiKeySigner) Address() string { return s.address }

func (s *SuiKeySigner) SignAndExecute(ctx context.Context, call suichain.MoveCall) (string, error) {
	return "", fmt.Errorf("keysigner: sui move-call signing requires a deployment-supplied wallet integration")
}
