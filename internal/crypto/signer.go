package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// EIP-712 type hashes, keccak256 of the canonical type strings.
var (
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	domainWithContractTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"),
	)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

// clobAuthMessage is the fixed attestation string the CLOB expects inside a
// ClobAuth struct.
const clobAuthMessage = "This message attests that I control the given wallet"

// exchangeContracts maps chain ID to the CTF Exchange contract address that
// verifies order signatures on that chain.
var exchangeContracts = map[int]common.Address{
	137:   common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"), // Polygon mainnet
	80002: common.HexToAddress("0xdFE02Eb6733538f8Ea35D585af8DE5958AD99E40"), // Amoy testnet
}

// OrderPayload carries the signable fields of a CLOB order. Addresses and
// uint256 values travel as strings because the CLOB JSON API does, and
// tokenId routinely exceeds float64 and int64 range.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`          // 0 = BUY, 1 = SELL
	SignatureType int    `json:"signatureType"` // 0 = EOA, 1 = POLY_PROXY, 2 = POLY_GNOSIS_SAFE
}

// Signer produces the two EIP-712 signatures the Polymarket CLOB requires:
// ClobAuth messages for deriving API credentials and Order structs for order
// placement. Auth messages are verified off-chain against the ClobAuthDomain;
// orders are verified on-chain by the CTF Exchange contract, so the two use
// different domain separators.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	authSep    []byte
	orderSep   []byte
}

// NewSigner builds a Signer for the given chain, precomputing both domain
// separators. Only chains with a known exchange contract are accepted.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: bad private key: %w", err)
	}

	contract, ok := exchangeContracts[chainID]
	if !ok {
		return nil, fmt.Errorf("crypto/signer: no exchange contract known for chain %d", chainID)
	}

	chain := big.NewInt(int64(chainID))
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		authSep: ethcrypto.Keccak256(
			domainTypeHash,
			strWord("ClobAuthDomain"),
			strWord("1"),
			numWord(chain),
		),
		orderSep: ethcrypto.Keccak256(
			domainWithContractTypeHash,
			strWord("Polymarket CTF Exchange"),
			strWord("1"),
			numWord(chain),
			addrWord(contract),
		),
	}, nil
}

// Address is the wallet address belonging to the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuthMessage signs the ClobAuth struct used to obtain an API key from
// the CLOB. The returned string is a 0x-prefixed hex signature with recovery
// byte (65 bytes total).
func (s *Signer) SignAuthMessage(address string, timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(
		clobAuthTypeHash,
		addrWord(common.HexToAddress(address)),
		strWord(strconv.FormatInt(timestamp, 10)),
		numWord(big.NewInt(nonce)),
		strWord(clobAuthMessage),
	)
	return s.signDigest(eip712Digest(s.authSep, structHash))
}

// SignOrder signs an Order struct for placement on the CLOB. It returns a
// 0x-prefixed hex signature (65 bytes).
func (s *Signer) SignOrder(order OrderPayload) (string, error) {
	structHash, err := orderStructHash(order)
	if err != nil {
		return "", err
	}
	return s.signDigest(eip712Digest(s.orderSep, structHash))
}

// signDigest produces the 0x-prefixed 65-byte r||s||v signature over a
// 32-byte digest.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign digest: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 verifiers expect {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// eip712Digest computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Digest(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

// orderStructHash ABI-encodes the order fields in type-string order and
// hashes them.
func orderStructHash(o OrderPayload) ([]byte, error) {
	numeric := [...]struct{ name, value string }{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	}
	var parsed [len(numeric)]*big.Int
	for i, f := range numeric {
		n, ok := new(big.Int).SetString(f.value, 10)
		if !ok {
			return nil, fmt.Errorf("crypto/signer: %s is not a base-10 integer: %q", f.name, f.value)
		}
		parsed[i] = n
	}

	return ethcrypto.Keccak256(
		orderTypeHash,
		numWord(parsed[0]), // salt
		addrWord(common.HexToAddress(o.Maker)),
		addrWord(common.HexToAddress(o.Signer)),
		addrWord(common.HexToAddress(o.Taker)),
		numWord(parsed[1]), // tokenId
		numWord(parsed[2]), // makerAmount
		numWord(parsed[3]), // takerAmount
		numWord(parsed[4]), // expiration
		numWord(parsed[5]), // nonce
		numWord(parsed[6]), // feeRateBps
		numWord(big.NewInt(int64(o.Side))),
		numWord(big.NewInt(int64(o.SignatureType))),
	), nil
}

// numWord returns the 32-byte big-endian ABI word for n.
func numWord(n *big.Int) []byte {
	return common.BigToHash(n).Bytes()
}

// addrWord returns the 32-byte left-padded ABI word for an address.
func addrWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

// strWord returns the EIP-712 encoding of a string value, keccak256 of its
// contents.
func strWord(s string) []byte {
	return ethcrypto.Keccak256([]byte(s))
}
