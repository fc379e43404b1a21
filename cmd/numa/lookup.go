package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rsclarke/numa/internal/failure"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <meter>",
	Short: "Look up the customer registered to a meter",
	Long: `Ask the metering back-end for the customer behind a meter number.
Useful for checking laison_url and connectivity before serving.`,
	Args: cobra.ExactArgs(1),
	RunE: runLookup,
}

func init() {
	rootCmd.AddCommand(lookupCmd)
}

func runLookup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.LaisonURL == "" {
		return errors.New("laison_url required (set LAISON_URL or add it to the env file)")
	}

	client, _, err := newMeteringClient(cfg)
	if err != nil {
		return err
	}

	customer, err := client.LookupCustomer(cmd.Context(), args[0])
	if err != nil {
		if fe, ok := failure.As(err); ok && fe.Kind == failure.KindProtocol {
			return fmt.Errorf("meter %s rejected (code %s): %s", args[0], fe.Code, fe.Message)
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Meter:    %s\n", customer.MeterNumber)
	fmt.Fprintf(out, "Customer: %s\n", customer.Name)
	return nil
}
