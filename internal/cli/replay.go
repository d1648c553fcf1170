package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"order-gateway/internal/audit"
	"order-gateway/internal/broker"
	"order-gateway/internal/models"
	"order-gateway/internal/risk"
	"order-gateway/internal/store"
	"order-gateway/internal/trading"
	"order-gateway/pkg/utils"
)

type replayReport struct {
	Broker    models.BrokerName     `json:"broker"`
	Results   []StepResult          `json:"results"`
	Summary   *models.LedgerSummary `json:"summary,omitempty"`
	Positions []models.Position     `json:"positions"`
	Risk      risk.Status           `json:"risk"`
}

func newReplayCmd(app *App) *cobra.Command {
	var showMetrics bool

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Replay a scripted trading day through the gateway",
		Long: `Replay builds a session for the configured broker (paper by default),
runs each scenario step through the risk manager and the gateway, and prints
every outcome followed by the account summary and risk status.

Scenario steps: order, mark, cancel, kill_switch, reset_day.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening scenario: %w", err)
			}
			sc, err := ParseScenario(f)
			f.Close()
			if err != nil {
				return err
			}

			session, cleanup, err := app.NewSession(ctx, sc)
			if err != nil {
				return err
			}
			defer cleanup()

			report := replayReport{
				Broker:  session.Gateway().Name(),
				Results: Replay(ctx, session, sc),
				Risk:    session.Risk().Status(),
			}
			if ledger, ok := session.Gateway().(*broker.PaperLedger); ok {
				summary := ledger.Summary()
				report.Summary = &summary
			}
			if report.Positions, err = session.Positions(ctx); err != nil {
				app.Logger.Warn().Err(err).Msg("Failed to read positions")
			}

			if output.IsJSON() {
				return output.JSON(report)
			}

			printReport(output, report)
			if showMetrics {
				printMetrics(output, app)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print collected metrics after the summary")
	return cmd
}

// NewSession builds and connects a session for the scenario's broker, or
// the configured one. The returned cleanup disconnects and closes the
// journal and audit trail.
func (a *App) NewSession(ctx context.Context, sc *Scenario) (*trading.Session, func(), error) {
	cfg := *a.Config
	if sc.Broker != "" {
		cfg.Trading.Broker = sc.Broker
	}
	if sc.StartingCapital > 0 {
		cfg.Trading.StartingCapital = sc.StartingCapital
	}
	if sc.BypassMarketHours != nil {
		cfg.Trading.BypassMarketHours = *sc.BypassMarketHours
	}

	name, err := broker.ParseBrokerName(cfg.Trading.Broker)
	if err != nil {
		return nil, nil, err
	}

	gw, err := broker.NewDefaultFactory(&cfg, a.Logger, a.Metrics).Create(name)
	if err != nil {
		return nil, nil, err
	}

	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				a.Logger.Warn().Err(err).Msg("Cleanup failed")
			}
		}
	}

	var auditor audit.Recorder = audit.Nop{}
	if cfg.Audit.Enabled {
		trail, err := audit.NewLogger(cfg.Audit)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, trail.Close)
		auditor = trail
	}

	rm, err := risk.NewManager(cfg.Risk,
		risk.WithLogger(a.Logger),
		risk.WithMetrics(a.Metrics),
		risk.WithAuditor(auditor),
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	opts := []trading.Option{
		trading.WithLogger(a.Logger),
		trading.WithMetrics(a.Metrics),
		trading.WithAuditor(auditor),
	}
	if cfg.Trading.BypassMarketHours {
		opts = append(opts, trading.WithMarketHoursBypass())
	}
	if cfg.Journal.Enabled {
		journal, err := store.NewSQLiteStore(cfg.Journal.Path)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, journal.Close)
		opts = append(opts, trading.WithJournal(journal))
	}

	session := trading.NewSession(gw, rm, opts...)

	var creds broker.Credentials
	if name == models.BrokerZerodha {
		creds = cfg.Credentials.Zerodha.AsMap()
	}
	if err := session.Connect(ctx, creds); err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, func() error { return session.Disconnect(context.Background()) })

	return session, cleanup, nil
}

func printReport(output *Output, report replayReport) {
	output.Bold("Replay on %s", report.Broker)
	output.Println()

	for _, r := range report.Results {
		subject := r.Symbol
		if r.OrderID != "" {
			subject = strings.TrimSpace(subject + " " + r.OrderID)
		}
		line := fmt.Sprintf("[%2d] %-12s %-28s %s", r.Step, r.Action, subject, output.Status(r.Status))
		if r.Check != "" {
			line += " (" + r.Check + ")"
		}
		if r.PnL != 0 {
			line += "  P&L " + output.FormatPnL(r.PnL)
		}
		output.Println(line)
		if r.Message != "" {
			output.Dim("       %s", r.Message)
		}
	}
	output.Println()

	if s := report.Summary; s != nil {
		output.Bold("Paper Account")
		output.Printf("  Starting Capital: %s\n", utils.FormatIndianCurrency(s.StartingCapital))
		output.Printf("  Cash:             %s\n", utils.FormatIndianCurrency(s.CurrentCapital))
		output.Printf("  Portfolio Value:  %s\n", utils.FormatIndianCurrency(s.PortfolioValue))
		output.Printf("  Total P&L:        %s (%s)\n", output.FormatPnL(s.TotalPnL), utils.FormatPercent(s.TotalPnLPercent))
		output.Printf("  Trades:           %d\n", s.TotalTrades)
		output.Println()
	}

	if len(report.Positions) > 0 {
		table := NewTable(output, "Symbol", "Qty", "Avg", "LTP", "P&L")
		for _, p := range report.Positions {
			table.AddRow(p.Symbol, fmt.Sprintf("%d", p.Quantity),
				fmt.Sprintf("%.2f", p.AveragePrice), fmt.Sprintf("%.2f", p.LTP), output.FormatPnL(p.PnL))
		}
		table.Render()
		output.Println()
	}

	printRiskStatus(output, report.Risk)
}

func printRiskStatus(output *Output, st risk.Status) {
	output.Bold("Risk Status")
	if st.KillSwitchActive {
		output.Error("  Kill switch: ACTIVE (%s)", st.KillSwitchReason)
	} else {
		output.Success("  Kill switch: off")
	}
	output.Printf("  Daily P&L:        %s over %d trade(s)\n", output.FormatPnL(st.DailyPnL), st.DailyTrades)
	output.Printf("  Loss remaining:   %s\n", utils.FormatIndianCurrency(st.DailyLossRemaining))
}

func printMetrics(output *Output, app *App) {
	families, err := app.Metrics.Gatherer().Gather()
	if err != nil {
		output.Warning("Metrics unavailable: %v", err)
		return
	}

	output.Println()
	output.Bold("Metrics")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			sort.Strings(labels)

			value := m.GetGauge().GetValue()
			if c := m.GetCounter(); c != nil {
				value = c.GetValue()
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			output.Printf("  %s %g\n", name, value)
		}
	}
}
