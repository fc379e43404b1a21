package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rsclarke/numa/internal/hubtel"
)

var sendSMSFlags struct {
	to      string
	message string
}

var sendSMSCmd = &cobra.Command{
	Use:   "send-sms",
	Short: "Send a test SMS through the gateway",
	Args:  cobra.NoArgs,
	RunE:  runSendSMS,
}

func init() {
	rootCmd.AddCommand(sendSMSCmd)

	sendSMSCmd.Flags().StringVar(&sendSMSFlags.to, "to", "", "recipient MSISDN, e.g. 233200000000")
	sendSMSCmd.Flags().StringVar(&sendSMSFlags.message, "message", "", "message text")
	sendSMSCmd.MarkFlagRequired("to")
	sendSMSCmd.MarkFlagRequired("message")
}

func runSendSMS(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.HubtelSMS == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return errors.New("hubtel_sms, client_id and client_secret required")
	}

	client := hubtel.New(hubtel.Config{
		SMSURL:       cfg.HubtelSMS,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Sender:       cfg.SMSSender,
		Connection:   cfg.Connection,
		Timeout:      cfg.HTTPTimeout,
	}, logger)

	if err := client.SendSMS(cmd.Context(), sendSMSFlags.to, sendSMSFlags.message); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "SMS sent to %s.\n", sendSMSFlags.to)
	return nil
}
