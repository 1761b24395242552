package cli

import (
	"context"
	"flag"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/spokehub/pkg/auth"
	"github.com/platinummonkey/spokehub/pkg/config"
)

func newAPIKeyCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "apikey",
		Description: "Issue a spoke API key and print its registry entry",
		Flags:       flag.NewFlagSet("apikey", flag.ContinueOnError),
	}

	spoke := cmd.Flags.String("spoke", "", "Spoke id")
	url := cmd.Flags.String("url", "", "Spoke base URL")
	appID := cmd.Flags.String("app", "", "Hub app id served by the spoke")

	cmd.Run = func(_ context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *spoke == "" {
			return fmt.Errorf("spoke is required")
		}

		key, hash, err := auth.NewTokenGenerator().GenerateAPIKey()
		if err != nil {
			return fmt.Errorf("failed to generate API key: %w", err)
		}

		entry := struct {
			Spokes []config.SpokeConfig `yaml:"spokes"`
		}{
			Spokes: []config.SpokeConfig{{
				ID:           *spoke,
				AppID:        *appID,
				URL:          *url,
				APIKeySHA256: hash,
			}},
		}
		snippet, err := yaml.Marshal(entry)
		if err != nil {
			return err
		}

		env.Log.WithField("spoke", *spoke).Info("Issued API key; it is shown once")
		fmt.Fprintf(env.Out, "API key: %s\n\n%s", key, snippet)
		return nil
	}

	return cmd
}
