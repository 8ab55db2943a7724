package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var opts clientOptions

	rootCmd := &cobra.Command{
		Use:          "labctl",
		Short:        "labctl - operate the labconnect partner gateway",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.BaseURL, "server", envOr("LABCONNECT_URL", "http://localhost:8080"), "labconnect server URL")
	rootCmd.PersistentFlags().StringVar(&opts.APIKey, "api-key", os.Getenv("LABCONNECT_API_KEY"), "operator API key")

	rootCmd.AddCommand(acquireCmd(&opts))
	rootCmd.AddCommand(revokeCmd(&opts))
	rootCmd.AddCommand(orderCmd(&opts))
	rootCmd.AddCommand(syncCmd(&opts))
	rootCmd.AddCommand(syncAllCmd(&opts))
	rootCmd.AddCommand(retryCmd(&opts))
	rootCmd.AddCommand(cancelCmd(&opts))
	rootCmd.AddCommand(productsCmd(&opts))
	rootCmd.AddCommand(statsCmd(&opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func acquireCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "acquire",
		Short: "Acquire or reuse a partner credential for this operator and address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(opts).call(cmd.Context(), cmd.OutOrStdout(), "POST", "/v1/credentials/acquire", nil)
		},
	}
}

func revokeCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke",
		Short: "Revoke every partner credential of this operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(opts).call(cmd.Context(), cmd.OutOrStdout(), "DELETE", "/v1/credentials", nil)
		},
	}
}

func orderCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "order [order-id]",
		Short: "Show an order with its partner status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(opts).call(cmd.Context(), cmd.OutOrStdout(), "GET", "/v1/orders/"+args[0], nil)
		},
	}
}

func syncCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [order-id]",
		Short: "Reconcile one order with the partner status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(opts).call(cmd.Context(), cmd.OutOrStdout(), "POST", "/v1/orders/"+args[0]+"/sync", nil)
		},
	}
}

func syncAllCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-all",
		Short: "Reconcile every PENDING and CREATED order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(opts).call(cmd.Context(), cmd.OutOrStdout(), "POST", "/v1/orders/sync", nil)
		},
	}
}

func retryCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [order-id]",
		Short: "Retry partner submission of a FAILED order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(opts).call(cmd.Context(), cmd.OutOrStdout(), "POST", "/v1/orders/"+args[0]+"/retry", nil)
		},
	}
}

func cancelCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [order-id]",
		Short: "Cancel an order locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(opts).call(cmd.Context(), cmd.OutOrStdout(), "POST", "/v1/orders/"+args[0]+"/cancel", nil)
		},
	}
}

func productsCmd(opts *clientOptions) *cobra.Command {
	var productType string
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List the partner catalog for a product type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(opts).call(cmd.Context(), cmd.OutOrStdout(), "GET", "/v1/products?type="+productType, nil)
		},
	}
	cmd.Flags().StringVarP(&productType, "type", "t", "TEST", "Product type (TEST, PROFILE, OFFER)")
	return cmd
}

func statsCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show partner breaker and queue state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(opts).call(cmd.Context(), cmd.OutOrStdout(), "GET", "/v1/partner/stats", nil)
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
