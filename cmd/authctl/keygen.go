package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/NordCoder/Gatekeeper/internal/auth/keys"
)

func newKeygenCmd() *cobra.Command {
	var (
		bits int
		out  string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA signing keypair",
		Long: "Generates a PKCS#8 private key and PKIX public key. With --out the PEM\n" +
			"files are written there; otherwise base64 values for KEYS_PRIVATE_KEY and\n" +
			"KEYS_PUBLIC_KEY are printed.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, pub, err := keys.Generate(bits)
			if err != nil {
				return err
			}
			if out == "" {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "KEYS_PRIVATE_KEY=%s\n", base64.StdEncoding.EncodeToString(priv))
				fmt.Fprintf(w, "KEYS_PUBLIC_KEY=%s\n", base64.StdEncoding.EncodeToString(pub))
				return nil
			}
			if err := os.MkdirAll(out, 0o700); err != nil {
				return err
			}
			privPath := filepath.Join(out, "private.pem")
			pubPath := filepath.Join(out, "public.pem")
			if err := os.WriteFile(privPath, priv, 0o600); err != nil {
				return err
			}
			if err := os.WriteFile(pubPath, pub, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", privPath, pubPath)
			return nil
		},
	}
	cmd.Flags().IntVar(&bits, "bits", 3072, "RSA modulus size")
	cmd.Flags().StringVar(&out, "out", "", "directory for private.pem and public.pem")
	return cmd
}
