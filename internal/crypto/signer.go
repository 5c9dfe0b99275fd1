package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/shproduct/internal/domain"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Call(address contract,string method,address caller,bytes32 argsHash,uint256 nonce)
	callTypeHash = ethcrypto.Keccak256(
		[]byte("Call(address contract,string method,address caller,bytes32 argsHash,uint256 nonce)"),
	)
)

const (
	domainName    = "SHProduct"
	domainVersion = "1"
)

// Signer signs call envelopes with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the chain ID the calls are bound to.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
		domainSep:  domainSeparator(chainID),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer's calls are bound to.
func (s *Signer) ChainID() int64 {
	return s.chainID
}

// SignCall fills in call.Caller and call.Signature.
func (s *Signer) SignCall(call *domain.Call) error {
	call.Caller = s.address
	sig, err := s.signDigest(eip712Hash(s.domainSep, callStructHash(*call)))
	if err != nil {
		return err
	}
	call.Signature = sig
	return nil
}

// Verifier checks call signatures for one chain ID.
type Verifier struct {
	domainSep []byte
}

// NewVerifier creates a Verifier for chainID.
func NewVerifier(chainID int64) *Verifier {
	return &Verifier{domainSep: domainSeparator(chainID)}
}

// Recover returns the address that signed call.
func (v *Verifier) Recover(call domain.Call) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(call.Signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decoding signature: %w", domain.ErrBadSignature)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature is %d bytes: %w", len(sig), domain.ErrBadSignature)
	}
	// Accept v in {27,28} as produced by signDigest.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	digest := eip712Hash(v.domainSep, callStructHash(call))
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recovering key: %w", errors.Join(domain.ErrBadSignature, err))
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify checks that call is signed by call.Caller.
func (v *Verifier) Verify(call domain.Call) error {
	if call.Signature == "" {
		return fmt.Errorf("crypto/signer: missing signature: %w", domain.ErrBadSignature)
	}
	signer, err := v.Recover(call)
	if err != nil {
		return err
	}
	if signer != call.Caller {
		return fmt.Errorf("crypto/signer: signed by %s, caller is %s: %w",
			signer.Hex(), call.Caller.Hex(), domain.ErrBadSignature)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// callStructHash encodes and hashes a call according to EIP-712. The
// arguments enter as keccak256 of their raw JSON bytes.
func callStructHash(c domain.Call) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			callTypeHash,
			common.LeftPadBytes(c.Contract.Bytes(), 32),
			ethcrypto.Keccak256([]byte(c.Method)),
			common.LeftPadBytes(c.Caller.Bytes(), 32),
			ethcrypto.Keccak256(c.Args),
			bigIntTo32Bytes(new(big.Int).SetUint64(c.Nonce)),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
