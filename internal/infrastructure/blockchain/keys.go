package blockchain

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/proto"
)

// transfer(address,uint256)
const transferSelector = "a9059cbb"

var ErrInvalidAddress = errors.New("invalid TRON address")

// Key is a secp256k1 private key controlling one TRON account.
type Key struct {
	priv *ecdsa.PrivateKey
}

// GenerateKey creates a fresh random key.
func GenerateKey() (*Key, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return &Key{priv: priv}, nil
}

// ParseKey loads a key from its raw 32-byte form or from hex text.
func ParseKey(raw []byte) (*Key, error) {
	if len(raw) != 32 {
		decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(string(raw)), "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key encoding: %w", err)
		}
		raw = decoded
	}
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Key{priv: priv}, nil
}

// Bytes returns the raw 32-byte private key.
func (k *Key) Bytes() []byte {
	return crypto.FromECDSA(k.priv)
}

// Address returns the base58check address of the key.
func (k *Key) Address() string {
	return address.PubkeyToAddress(k.priv.PublicKey).String()
}

// Sign attaches a signature over sha256(raw_data) and returns the tx id.
func (k *Key) Sign(tx *core.Transaction) (string, error) {
	hash, err := rawDataHash(tx)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(hash, k.priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	tx.Signature = [][]byte{sig}
	return hex.EncodeToString(hash), nil
}

func rawDataHash(tx *core.Transaction) ([]byte, error) {
	if tx == nil || tx.RawData == nil {
		return nil, errors.New("transaction has no raw data")
	}
	raw, err := proto.Marshal(tx.RawData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw data: %w", err)
	}
	sum := sha256.Sum256(raw)
	return sum[:], nil
}

// SignerAddress recovers the address that signed tx.
func SignerAddress(tx *core.Transaction) (string, error) {
	if len(tx.GetSignature()) == 0 {
		return "", errors.New("no signature found")
	}
	hash, err := rawDataHash(tx)
	if err != nil {
		return "", err
	}
	pub, err := crypto.SigToPub(hash, tx.Signature[0])
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return address.PubkeyToAddress(*pub).String(), nil
}

// ValidateAddress checks the T prefix, the length and the base58 checksum.
func ValidateAddress(addr string) error {
	if len(addr) != 34 || !strings.HasPrefix(addr, "T") {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	if _, err := address.Base58ToAddress(addr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return nil
}

// TransferCallData encodes transfer(to, amount) for a TRC20 contract.
func TransferCallData(to string, amount *big.Int) (string, error) {
	toAddr, err := address.Base58ToAddress(to)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	toParam := common.LeftPadBytes(toAddr.Bytes()[1:], 32)
	amountParam := common.LeftPadBytes(amount.Bytes(), 32)
	return transferSelector + hex.EncodeToString(toParam) + hex.EncodeToString(amountParam), nil
}

// ToBaseUnits converts a token amount to the contract's integer units.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromBaseUnits converts integer contract units to a token amount.
func FromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}
