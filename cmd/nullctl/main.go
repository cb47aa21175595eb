package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nullctl",
		Short: "Issuer tooling for Null Protocol documents",
		Long: `nullctl canonicalizes, digests and signs warrants and attestations the
way the relayer verifies them, and computes the identifiers the ledger and
receipt registry use.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newCanonicalizeCmd(),
		newDigestCmd(),
		newSignCmd(),
		newVerifyCmd(),
		newTokenIDCmd(),
		newSubjectTagCmd(),
		newKeygenCmd(),
		newDelegateCmd(),
	)
	return root
}

// readInput reads the named file, or stdin when path is empty or "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func writeOutput(cmd *cobra.Command, path string, payload []byte) error {
	if path == "" || path == "-" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), string(payload))
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func inputArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
