package main

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rsclarke/numa/internal/token"
)

var purchaseParamFlags struct {
	transactionID string
	amount        string
}

var purchaseParamCmd = &cobra.Command{
	Use:   "purchase-param",
	Short: "Print the purchase parameter for a transaction",
	Long: `Compute the purchase parameter the metering back-end expects for a
transaction and amount, using root_key. Use it to compare against values the
back-end operator computes independently.`,
	Args: cobra.NoArgs,
	RunE: runPurchaseParam,
}

func init() {
	rootCmd.AddCommand(purchaseParamCmd)

	purchaseParamCmd.Flags().StringVar(&purchaseParamFlags.transactionID, "transaction-id", "", "transaction ID (first 16 characters of the order ID)")
	purchaseParamCmd.Flags().StringVar(&purchaseParamFlags.amount, "amount", "", "payment amount, e.g. 50.00")
	purchaseParamCmd.MarkFlagRequired("transaction-id")
	purchaseParamCmd.MarkFlagRequired("amount")
}

func runPurchaseParam(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.RootKey == "" {
		return errors.New("root_key required (set ROOT_KEY or add it to the env file)")
	}

	amount, err := decimal.NewFromString(purchaseParamFlags.amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", purchaseParamFlags.amount, err)
	}

	codec, err := token.NewCodec(cfg.RootKey)
	if err != nil {
		return err
	}
	param, err := codec.PurchaseParam(purchaseParamFlags.transactionID, amount)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), param)
	return nil
}
