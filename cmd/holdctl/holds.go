package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "status [localOrderId]",
		Short: "Show the status of a hold (expires it if overdue)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := load(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			h, err := c.Holds.GetHold(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			view, err := c.Holds.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Hold:      %s\n", view.LocalOrderID)
			fmt.Fprintf(out, "Status:    %s\n", view.Status)
			fmt.Fprintf(out, "User:      %s\n", h.UserID)
			fmt.Fprintf(out, "Total:     %s %s\n", h.TotalAmount.StringFixed(2), h.Currency)
			fmt.Fprintf(out, "Expires:   %s\n", view.ExpiresAt.Format(time.RFC3339))
			if view.GatewayOrderID != "" {
				fmt.Fprintf(out, "Gateway:   %s\n", view.GatewayOrderID)
			}
			if h.GatewayPaymentID != "" {
				fmt.Fprintf(out, "Payment:   %s\n", h.GatewayPaymentID)
			}
			for _, l := range h.Lines {
				fmt.Fprintf(out, "  - %s x%d @ %s\n", l.ProductID, l.Quantity, l.UnitPrice.StringFixed(2))
			}
			return nil
		},
	}
}

func cancelCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [localOrderId]",
		Short: "Cancel an active hold and release its stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := load(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			h, err := c.Holds.CancelHold(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", h.LocalOrderID, h.Status)
			return nil
		},
	}
}

func sweepCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry sweep and print what it did",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := load(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			res, err := c.Reaper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d expired=%d lost=%d failed=%d skipped=%t\n",
				res.Scanned, res.Expired, res.Lost, res.Failed, res.Skipped)
			return nil
		},
	}
}
