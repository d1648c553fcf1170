package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"order-gateway/internal/models"
	"order-gateway/internal/store"
	"order-gateway/pkg/utils"
)

func newJournalCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Review the trade journal",
		Long: `Read closed trades and order outcomes recorded by sessions that ran
with journal.enabled. The journal is an export; it is never loaded back
into a ledger.`,
	}

	cmd.AddCommand(newJournalTradesCmd(app))
	cmd.AddCommand(newJournalOrdersCmd(app))
	return cmd
}

func openJournal(app *App, output *Output) (*store.SQLiteStore, error) {
	if !app.Config.Journal.Enabled {
		output.Warning("journal.enabled is false; showing whatever %s already holds", app.Config.Journal.Path)
	}
	return store.NewSQLiteStore(app.Config.Journal.Path)
}

func newJournalTradesCmd(app *App) *cobra.Command {
	var (
		symbol string
		limit  int
		since  string
	)

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List closed trades, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			filter := store.TradeFilter{Symbol: symbol, Limit: limit}
			if since != "" {
				t, err := time.ParseInLocation("2006-01-02", since, utils.IndiaLocation)
				if err != nil {
					return fmt.Errorf("--since must be YYYY-MM-DD: %w", err)
				}
				filter.StartDate = t
			}

			journal, err := openJournal(app, output)
			if err != nil {
				return err
			}
			defer journal.Close()

			trades, err := journal.GetTrades(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Info("No trades recorded.")
				return nil
			}

			var (
				totalPnL     float64
				wins, losses int
			)
			table := NewTable(output, "Closed", "Symbol", "Qty", "Entry", "Exit", "P&L", "Order")
			for _, t := range trades {
				totalPnL += t.PnL
				if t.PnL > 0 {
					wins++
				} else {
					losses++
				}
				table.AddRow(
					t.ClosedAt.In(utils.IndiaLocation).Format("02-Jan 15:04"),
					t.Symbol,
					fmt.Sprintf("%d", t.Quantity),
					fmt.Sprintf("%.2f", t.EntryPrice),
					fmt.Sprintf("%.2f", t.ExitPrice),
					output.FormatPnL(t.PnL),
					t.OrderID,
				)
			}
			table.Render()

			output.Println()
			output.Bold("Summary")
			output.Printf("  Total Trades: %d\n", len(trades))
			output.Printf("  Wins/Losses:  %d/%d (%.0f%% win rate)\n", wins, losses, float64(wins)/float64(len(trades))*100)
			output.Printf("  Total P&L:    %s\n", output.FormatPnL(totalPnL))
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "only trades in this symbol")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().StringVar(&since, "since", "", "only trades closed on or after this date (YYYY-MM-DD, IST)")
	return cmd
}

func newJournalOrdersCmd(app *App) *cobra.Command {
	var (
		brokerName string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List journaled order outcomes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			journal, err := openJournal(app, output)
			if err != nil {
				return err
			}
			defer journal.Close()

			orders, err := journal.GetOrders(cmd.Context(), store.OrderFilter{
				Broker: models.BrokerName(brokerName),
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(orders)
			}
			if len(orders) == 0 {
				output.Info("No orders recorded.")
				return nil
			}

			table := NewTable(output, "Time", "Broker", "Order", "Symbol", "Side", "Type", "Qty", "Price", "Status")
			for _, o := range orders {
				table.AddRow(
					o.Timestamp.In(utils.IndiaLocation).Format("02-Jan 15:04:05"),
					string(o.Broker),
					o.OrderID,
					o.Symbol,
					string(o.Side),
					string(o.Type),
					fmt.Sprintf("%d", o.Quantity),
					fmt.Sprintf("%.2f", o.Price),
					output.Status(o.Status),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&brokerName, "broker", "", "only orders from this broker")
	cmd.Flags().StringVar(&status, "status", "", "only orders with this status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}
