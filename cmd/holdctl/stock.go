package main

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"sabzar/internal/pkg/config"
	"sabzar/internal/service/hold/domain/port"
	"sabzar/internal/service/hold/infrastructure"
)

func stockCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Inspect or set stock counters",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [productId]",
		Short: "Show stock, reserved and available quantities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := load(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			level, err := c.Ledger.Level(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stock=%d reserved=%d available=%d\n",
				level.ProductID, level.StockQuantity, level.ReservedQuantity, level.Available())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [productId] [quantity]",
		Short: "Set the on-hand stock (cannot go below the reserved quantity)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil || qty < 0 {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			c, err := load(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Ledger.SetStock(cmd.Context(), args[0], qty); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stock=%d\n", args[0], qty)
			return nil
		},
	})
	return cmd
}

func productCmd(load loader) *cobra.Command {
	var (
		name  string
		price string
		stock int
	)
	cmd := &cobra.Command{
		Use:   "product [productId]",
		Short: "Create or update a catalog product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := decimal.NewFromString(price)
			if err != nil || p.IsNegative() {
				return fmt.Errorf("invalid price %q", price)
			}
			c, err := load(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Catalog.Upsert(cmd.Context(), port.Product{ID: args[0], Name: name, Price: p}, stock); err != nil {
				return err
			}
			// Redis 账本的计数器不在 products 表里，需要单独初始化
			if c.Config.App.LedgerBackend == "redis" {
				if err := c.Ledger.SetStock(cmd.Context(), args[0], stock); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %q price=%s\n", args[0], name, p.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&price, "price", "0", "unit price, e.g. 120.50")
	cmd.Flags().IntVar(&stock, "stock", 0, "initial stock for a new product")
	return cmd
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			db, err := infrastructure.OpenMySQL(cfg.Infra.MySQL)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := infrastructure.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
