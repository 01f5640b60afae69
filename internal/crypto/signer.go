package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Request signing headers.
const (
	HeaderAddress   = "X-Kuru-Address"
	HeaderTimestamp = "X-Kuru-Timestamp"
	HeaderSignature = "X-Kuru-Signature"
)

// Signer signs API requests with the wallet key using the personal_sign
// scheme (EIP-191) over timestamp + method + path + body.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	now     func() time.Time
}

// NewSigner parses a hex secp256k1 key, with or without 0x.
func NewSigner(privateKeyHex string) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		now:     time.Now,
	}, nil
}

// SetClock replaces the time source used for request timestamps.
func (s *Signer) SetClock(now func() time.Time) { s.now = now }

// Address returns the wallet address.
func (s *Signer) Address() common.Address { return s.address }

// Sign returns the 65-byte signature (v in {27, 28}) over message as hex.
func (s *Signer) Sign(message []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(message), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// Headers returns the authentication headers for one request.
func (s *Signer) Headers(method, path string, body []byte) (map[string]string, error) {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	sig, err := s.Sign(RequestMessage(ts, method, path, body))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAddress:   s.address.Hex(),
		HeaderTimestamp: ts,
		HeaderSignature: sig,
	}, nil
}

// RequestMessage is the signed payload of a request.
func RequestMessage(ts, method, path string, body []byte) []byte {
	msg := make([]byte, 0, len(ts)+len(method)+len(path)+len(body))
	msg = append(msg, ts...)
	msg = append(msg, strings.ToUpper(method)...)
	msg = append(msg, path...)
	return append(msg, body...)
}

// Recover returns the address that produced sig over message.
func Recover(message []byte, sig string) (common.Address, error) {
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	if len(raw) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature must be 65 bytes, got %d", len(raw))
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(message), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
