package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/permephem/null-sub005/pkg/docsign"
)

func newCanonicalizeCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "canonicalize [file]",
		Short: "Print a JSON document in canonical form",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, inputArg(args))
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			canonical, err := docsign.Canonicalize(raw)
			if err != nil {
				return fmt.Errorf("canonicalize: %w", err)
			}
			return writeOutput(cmd, outPath, canonical)
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "output path (default stdout)")
	return cmd
}

func newDigestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest [file]",
		Short: "Print the digest the ledger anchors for a document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, inputArg(args))
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			digest, err := docsign.Digest(raw)
			if err != nil {
				return fmt.Errorf("digest: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), digest.Hex())
			return err
		},
	}
}

func newSignCmd() *cobra.Command {
	var (
		alg     string
		kid     string
		keyHex  string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "sign [file]",
		Short: "Sign a warrant or attestation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := docsign.NewSigner(alg, kid, keyHex)
			if err != nil {
				return err
			}
			raw, err := readInput(cmd, inputArg(args))
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			signed, err := docsign.Sign(raw, signer)
			if err != nil {
				return fmt.Errorf("sign: %w", err)
			}
			return writeOutput(cmd, outPath, signed)
		},
	}
	cmd.Flags().StringVar(&alg, "alg", "Ed25519", "signature algorithm (Ed25519, ES256K, ES256)")
	cmd.Flags().StringVar(&kid, "kid", "", "key id registered with the relayer")
	cmd.Flags().StringVar(&keyHex, "key-hex", "", "hex private key")
	cmd.Flags().StringVar(&outPath, "out", "", "output path (default stdout)")
	_ = cmd.MarkFlagRequired("kid")
	_ = cmd.MarkFlagRequired("key-hex")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var publicKey string
	cmd := &cobra.Command{
		Use:   "verify [file]",
		Short: "Check a document's embedded signature against a public key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := docsign.DecodePublicKey(publicKey)
			if err != nil {
				return fmt.Errorf("public key: %w", err)
			}
			raw, err := readInput(cmd, inputArg(args))
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			res, err := docsign.Verify(raw, pub)
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			return writeJSON(cmd, map[string]any{
				"valid":  true,
				"kid":    res.Signature.KeyID,
				"alg":    res.Signature.Algorithm,
				"digest": res.Digest,
			})
		},
	}
	cmd.Flags().StringVar(&publicKey, "public-key", "", "public key, 0x-hex or base64")
	_ = cmd.MarkFlagRequired("public-key")
	return cmd
}

func newKeygenCmd() *cobra.Command {
	var alg string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pair, err := docsign.GenerateKey(alg)
			if err != nil {
				return err
			}
			return writeJSON(cmd, pair)
		},
	}
	cmd.Flags().StringVar(&alg, "alg", "Ed25519", "signature algorithm (Ed25519, ES256K, ES256)")
	return cmd
}
