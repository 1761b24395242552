package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/platinummonkey/spokehub/pkg/keys"
)

const (
	privateKeyFile = "private.pem"
	publicKeyFile  = "public.pem"
)

func newKeygenCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "keygen",
		Description: "Generate the RS256 token signing keypair",
		Flags:       flag.NewFlagSet("keygen", flag.ContinueOnError),
	}

	bits := cmd.Flags.Int("bits", 2048, "RSA key size")
	out := cmd.Flags.String("out", ".", "Directory to write private.pem and public.pem")
	force := cmd.Flags.Bool("force", false, "Overwrite existing key files")

	cmd.Run = func(_ context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *bits < 2048 {
			return fmt.Errorf("key size must be at least 2048 bits")
		}

		privPath := filepath.Join(*out, privateKeyFile)
		pubPath := filepath.Join(*out, publicKeyFile)
		if !*force {
			for _, path := range []string{privPath, pubPath} {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use -force to overwrite)", path)
				} else if !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}
		}

		privPEM, pubPEM, err := keys.Generate(*bits)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(*out, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}
		if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
			return fmt.Errorf("failed to write public key: %w", err)
		}

		env.Log.WithField("bits", *bits).WithField("dir", *out).Info("Generated signing keypair")
		fmt.Fprintf(env.Out, "SPOKEHUB_JWT_PRIVATE_KEY_FILE=%s\nSPOKEHUB_JWT_PUBLIC_KEY_FILE=%s\n", privPath, pubPath)
		return nil
	}

	return cmd
}
