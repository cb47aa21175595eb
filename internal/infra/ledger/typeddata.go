package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/permephem/null-sub005/internal/domain"
)

const (
	anchorPrimaryType = "Anchor"

	DefaultName    = "NullProtocol"
	DefaultVersion = "1"
)

var anchorTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	anchorPrimaryType: {
		{Name: "warrantHash", Type: "bytes32"},
		{Name: "attestationHash", Type: "bytes32"},
		{Name: "subjectTag", Type: "bytes32"},
		{Name: "controllerDidHash", Type: "bytes32"},
		{Name: "assurance", Type: "uint8"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// TypedDomain is the EIP-712 domain a delegated anchor is signed under.
type TypedDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract domain.Address
}

// AnchorTypedData builds the EIP-712 message a delegating submitter signs.
func AnchorTypedData(d TypedDomain, req domain.AnchorRequest, nonce uint64, deadline time.Time) apitypes.TypedData {
	if d.Name == "" {
		d.Name = DefaultName
	}
	if d.Version == "" {
		d.Version = DefaultVersion
	}
	chainID := new(big.Int)
	if d.ChainID != nil {
		chainID.Set(d.ChainID)
	}
	return apitypes.TypedData{
		Types:       anchorTypes,
		PrimaryType: anchorPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"warrantHash":       req.WarrantDigest.Hex(),
			"attestationHash":   req.AttestationDigest.Hex(),
			"subjectTag":        req.SubjectTag.Hex(),
			"controllerDidHash": req.ControllerDIDHash.Hex(),
			"assurance":         strconv.Itoa(int(req.Assurance)),
			"nonce":             new(big.Int).SetUint64(nonce).String(),
			"deadline":          strconv.FormatInt(deadline.Unix(), 10),
		},
	}
}

// AnchorHash is the EIP-712 signing hash for a delegated anchor.
func AnchorHash(d TypedDomain, req domain.AnchorRequest, nonce uint64, deadline time.Time) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(AnchorTypedData(d, req, nonce, deadline))
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash typed data: %w", err)
	}
	return common.BytesToHash(hash), nil
}

func (l *Ledger) TypedDomain() TypedDomain {
	return TypedDomain{
		Name:              l.name,
		Version:           l.version,
		ChainID:           new(big.Int).Set(l.chainID),
		VerifyingContract: l.verifyingContract,
	}
}

func (l *Ledger) TypedData(req domain.AnchorRequest, nonce uint64, deadline time.Time) apitypes.TypedData {
	return AnchorTypedData(l.TypedDomain(), req, nonce, deadline)
}

func (l *Ledger) DelegatedAnchorHash(req domain.AnchorRequest, nonce uint64, deadline time.Time) (common.Hash, error) {
	return AnchorHash(l.TypedDomain(), req, nonce, deadline)
}

// recoverSigner accepts r||s||v with v in {0,1,27,28}.
func recoverSigner(hash common.Hash, sig []byte) (domain.Address, error) {
	if len(sig) != 65 {
		return domain.Address{}, errors.New("signature must be 65 bytes")
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return domain.Address{}, errors.New("invalid recovery id")
	}
	pub, err := ethcrypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return domain.Address{}, err
	}
	if !ethcrypto.VerifySignature(ethcrypto.FromECDSAPub(pub), hash.Bytes(), normalized[:64]) {
		return domain.Address{}, errors.New("malleable or invalid signature")
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// EncodeSignature renders a delegated-anchor signature for transport.
func EncodeSignature(sig []byte) string {
	return hexutil.Encode(sig)
}

func DecodeSignature(value string) ([]byte, error) {
	return hexutil.Decode(value)
}
