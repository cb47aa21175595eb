package main

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/permephem/null-sub005/internal/domain"
	"github.com/permephem/null-sub005/internal/infra/crypto"
	"github.com/permephem/null-sub005/internal/infra/ledger"
	"github.com/permephem/null-sub005/internal/infra/receipts"
)

func newTokenIDCmd() *cobra.Command {
	var warrant, attestation string
	cmd := &cobra.Command{
		Use:   "token-id",
		Short: "Compute the receipt token id for a warrant and attestation digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := parseDigest(warrant)
			if err != nil {
				return fmt.Errorf("--warrant: %w", err)
			}
			a, err := parseDigest(attestation)
			if err != nil {
				return fmt.Errorf("--attestation: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), receipts.TokenIDFor(w, a).Hex())
			return err
		},
	}
	cmd.Flags().StringVar(&warrant, "warrant", "", "warrant digest")
	cmd.Flags().StringVar(&attestation, "attestation", "", "attestation digest")
	_ = cmd.MarkFlagRequired("warrant")
	_ = cmd.MarkFlagRequired("attestation")
	return cmd
}

func newSubjectTagCmd() *cobra.Command {
	var tagKeyHex, subject, context string
	cmd := &cobra.Command{
		Use:   "subject-tag",
		Short: "Derive the privacy-preserving subject tag for a subject handle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := hexutil.Decode(ensure0x(tagKeyHex))
			if err != nil {
				return fmt.Errorf("--tag-key-hex: %w", err)
			}
			tag, err := crypto.DeriveSubjectTag(key, subject, context)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tag.Hex())
			return err
		},
	}
	cmd.Flags().StringVar(&tagKeyHex, "tag-key-hex", "", "controller tag key, hex")
	cmd.Flags().StringVar(&subject, "subject", "", "subject handle")
	cmd.Flags().StringVar(&context, "context", "", "tag context, usually the enterprise id")
	_ = cmd.MarkFlagRequired("tag-key-hex")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// delegateBody mirrors the relayer's POST /v1/ledger/anchors/delegated body.
type delegateBody struct {
	WarrantHash       string `json:"warrantHash"`
	AttestationHash   string `json:"attestationHash,omitempty"`
	SubjectTag        string `json:"subjectTag"`
	ControllerDIDHash string `json:"controllerDidHash"`
	Assurance         uint8  `json:"assurance"`
	Fee               string `json:"fee"`
	Signer            string `json:"signer"`
	Nonce             uint64 `json:"nonce"`
	Deadline          int64  `json:"deadline"`
	Signature         string `json:"signature"`
}

func newDelegateCmd() *cobra.Command {
	var (
		keyHex      string
		chainID     int64
		contract    string
		version     string
		warrant     string
		attestation string
		subjectTag  string
		enterprise  string
		controller  string
		assurance   uint8
		fee         string
		nonce       uint64
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "delegate",
		Short: "Sign an EIP-712 delegated anchor request",
		Long: `delegate signs an anchor authorization offline and prints the request
body for POST /v1/ledger/anchors/delegated. The nonce must match the signer's
current ledger nonce (GET /v1/ledger/nonces/{address}).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := hexutil.Decode(ensure0x(keyHex))
			if err != nil {
				return fmt.Errorf("--key-hex: %w", err)
			}
			key, err := ethcrypto.ToECDSA(raw)
			if err != nil {
				return fmt.Errorf("--key-hex: %w", err)
			}
			signer, err := crypto.NewSecp256k1Signer("", key)
			if err != nil {
				return err
			}
			if !common.IsHexAddress(contract) {
				return errors.New("--contract must be a 20-byte hex address")
			}

			var req domain.AnchorRequest
			if req.WarrantDigest, err = parseDigest(warrant); err != nil {
				return fmt.Errorf("--warrant: %w", err)
			}
			if attestation != "" {
				if req.AttestationDigest, err = parseDigest(attestation); err != nil {
					return fmt.Errorf("--attestation: %w", err)
				}
			}
			if req.SubjectTag, err = parseDigest(subjectTag); err != nil {
				return fmt.Errorf("--subject-tag: %w", err)
			}
			switch {
			case controller != "":
				if req.ControllerDIDHash, err = parseDigest(controller); err != nil {
					return fmt.Errorf("--controller-did-hash: %w", err)
				}
			case enterprise != "":
				req.ControllerDIDHash = crypto.ControllerDIDHash(enterprise)
			default:
				return errors.New("one of --enterprise or --controller-did-hash is required")
			}
			req.Assurance = domain.AssuranceLevel(assurance)
			if !req.Assurance.Valid() {
				return fmt.Errorf("--assurance %d is out of range", assurance)
			}
			amount, ok := new(big.Int).SetString(fee, 10)
			if !ok || amount.Sign() < 0 {
				return fmt.Errorf("--fee %q is not a non-negative integer", fee)
			}
			req.Fee = amount

			deadline := time.Now().Add(ttl).Truncate(time.Second).UTC()
			hash, err := ledger.AnchorHash(ledger.TypedDomain{
				Version:           version,
				ChainID:           big.NewInt(chainID),
				VerifyingContract: common.HexToAddress(contract),
			}, req, nonce, deadline)
			if err != nil {
				return err
			}
			sig, err := signer.SignHash(hash)
			if err != nil {
				return fmt.Errorf("sign: %w", err)
			}

			body := delegateBody{
				WarrantHash:       req.WarrantDigest.Hex(),
				SubjectTag:        req.SubjectTag.Hex(),
				ControllerDIDHash: req.ControllerDIDHash.Hex(),
				Assurance:         assurance,
				Fee:               amount.String(),
				Signer:            signer.Address().Hex(),
				Nonce:             nonce,
				Deadline:          deadline.Unix(),
				Signature:         hexutil.Encode(sig),
			}
			if attestation != "" {
				body.AttestationHash = req.AttestationDigest.Hex()
			}
			return writeJSON(cmd, body)
		},
	}
	cmd.Flags().StringVar(&keyHex, "key-hex", "", "secp256k1 private key, hex")
	cmd.Flags().Int64Var(&chainID, "chain-id", 31337, "EIP-712 chain id")
	cmd.Flags().StringVar(&contract, "contract", "", "ledger verifying contract address")
	cmd.Flags().StringVar(&version, "domain-version", ledger.DefaultVersion, "EIP-712 domain version")
	cmd.Flags().StringVar(&warrant, "warrant", "", "warrant digest")
	cmd.Flags().StringVar(&attestation, "attestation", "", "attestation digest")
	cmd.Flags().StringVar(&subjectTag, "subject-tag", "", "subject tag")
	cmd.Flags().StringVar(&enterprise, "enterprise", "", "enterprise id the controller DID hash is derived from")
	cmd.Flags().StringVar(&controller, "controller-did-hash", "", "explicit controller DID hash")
	cmd.Flags().Uint8Var(&assurance, "assurance", 0, "assurance level (0 basic, 1 standard, 2 high)")
	cmd.Flags().StringVar(&fee, "fee", "0", "fee in wei")
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "signer's current ledger nonce")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "signature validity window")
	_ = cmd.MarkFlagRequired("key-hex")
	_ = cmd.MarkFlagRequired("contract")
	_ = cmd.MarkFlagRequired("warrant")
	_ = cmd.MarkFlagRequired("subject-tag")
	return cmd
}

func parseDigest(value string) (domain.Digest, error) {
	b, err := hexutil.Decode(ensure0x(value))
	if err != nil {
		return domain.Digest{}, err
	}
	if len(b) != common.HashLength {
		return domain.Digest{}, errors.New("digest must be 32 bytes")
	}
	return common.BytesToHash(b), nil
}

func ensure0x(value string) string {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return value
	}
	return "0x" + value
}
