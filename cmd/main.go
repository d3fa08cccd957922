package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"futuresbot/cmd/executor"
	"futuresbot/cmd/keys"
	"futuresbot/src/config"
	"futuresbot/src/model"
	"futuresbot/src/risk"
	"futuresbot/src/strategy"
	"futuresbot/src/utils"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "futuresbot"
	app.Usage = "Binance USDT-M futures order execution"
	app.Version = Version

	app.Commands = []cli.Command{
		strategyCMD(strategy.KindMarket, "place a market order", reduceOnlyFlag),
		strategyCMD(strategy.KindLimit, "place a limit order", reduceOnlyFlag, cli.BoolFlag{
			Name:  "wait",
			Usage: "watch the order until it is terminal, cancel it on interrupt",
		}),
		strategyCMD(strategy.KindOCO, "place a take-profit / stop-loss bracket", cli.BoolFlag{
			Name:  "with-entry",
			Usage: "open the position with a market order first",
		}, cli.StringFlag{
			Name:  "sl-limit",
			Usage: "use a STOP limit order at this price for the stop-loss leg",
		}),
		strategyCMD(strategy.KindTWAP, "split an order evenly over time", strictFlag, cli.StringFlag{
			Name:  "limit-price",
			Usage: "place LIMIT GTC children at this price instead of market orders",
		}),
		strategyCMD(strategy.KindGrid, "run a grid of buy and sell orders", strictFlag, cli.BoolFlag{
			Name:  "auto-range",
			Usage: "derive the bounds from the last 24 hourly candles when both are 0",
		}, cli.DurationFlag{
			Name:  "duration",
			Usage: "stop the grid after this long (0 runs until interrupted)",
		}),
		batchCMD,
		statusCMD,
		cancelCMD,
		encryptCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(executor.ExitCode(err))
	}
}

var (
	strictFlag = cli.BoolFlag{
		Name:  "strict",
		Usage: "abort the plan on the first failed child order",
	}
	reduceOnlyFlag = cli.BoolFlag{
		Name:  "reduce-only",
		Usage: "only reduce an existing position",
	}

	batchCMD = cli.Command{
		Name:        "batch",
		Usage:       "run one strategy per line of FILE concurrently",
		Action:      batchAction,
		ArgsUsage:   "FILE",
		Description: "Each line is a strategy command, e.g. `twap --strict BTCUSDT BUY 0.01 30 5`. Lines starting with # are skipped.",
	}
	statusCMD = cli.Command{
		Name:      "status",
		Usage:     "show the state of one order",
		Action:    statusAction,
		ArgsUsage: "SYMBOL ORDER_ID",
	}
	cancelCMD = cli.Command{
		Name:      "cancel",
		Usage:     "cancel one order (already filled or canceled orders are not an error)",
		Action:    cancelAction,
		ArgsUsage: "SYMBOL ORDER_ID",
	}
	encryptCMD = cli.Command{
		Name:        "encrypt",
		Usage:       "encrypt API credentials for the environment",
		Action:      encryptAction,
		Description: "Reads commands from stdin; type help for the list.",
	}
)

func strategyCMD(kind strategy.Kind, usage string, flags ...cli.Flag) cli.Command {
	return cli.Command{
		Name:      string(kind),
		Usage:     usage,
		ArgsUsage: executor.Usage(kind),
		Flags:     flags,
		Action: func(c *cli.Context) error {
			return strategyAction(c, kind)
		},
	}
}

// bootstrap loads the configuration, sets up logging and connects everything.
func bootstrap(ctx context.Context) (*executor.Executor, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logFile, err := executor.SetupLogger(cfg.Runtime)
	if err != nil {
		logrus.WithError(err).Warn("Log file unavailable, logging to stderr only")
	}

	exec, err := executor.New(ctx, cfg)
	if err != nil {
		_ = logFile.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := exec.Close(); err != nil {
			logrus.WithError(err).Warn("Shutdown error")
		}
		_ = logFile.Close()
	}
	return exec, cleanup, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
}

func strategyAction(c *cli.Context, kind strategy.Kind) error {
	req, err := executor.ParseArgs(kind, []string(c.Args()), executor.Options{
		Wait:       c.Bool("wait"),
		ReduceOnly: c.Bool("reduce-only"),
		WithEntry:  c.Bool("with-entry"),
		StopLimit:  c.String("sl-limit"),
		LimitPrice: c.String("limit-price"),
		AutoRange:  c.Bool("auto-range"),
		Duration:   c.Duration("duration"),
		Strict:     c.Bool("strict"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	exec, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	logrus.WithFields(map[string]interface{}{
		"cmd":    string(kind),
		"symbol": req.Symbol(),
	}).Info("Starting strategy")

	summary, err := exec.Run(ctx, req)
	fmt.Print(utils.FormatSummary(summary))
	return err
}

func batchAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return model.ConfigError("batch", "usage: batch FILE")
	}
	f, err := os.Open(c.Args().First())
	if err != nil {
		return model.ConfigError("batch", "%v", err)
	}
	reqs, err := executor.ParseBatch(f)
	_ = f.Close()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	exec, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	logrus.WithField("strategies", len(reqs)).Info("Starting batch")
	summaries, err := exec.Batch(ctx, reqs)
	for _, s := range summaries {
		fmt.Print(utils.FormatSummary(s))
		fmt.Println()
	}
	return err
}

func orderArgs(c *cli.Context, cmd string) (string, int64, error) {
	if c.NArg() != 2 {
		return "", 0, model.ConfigError(cmd, "usage: %s SYMBOL ORDER_ID", cmd)
	}
	id, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
	if err != nil || id <= 0 {
		return "", 0, model.ConfigError(cmd, "invalid order id %q", c.Args().Get(1))
	}
	return risk.NormalizeSymbol(c.Args().First()), id, nil
}

func printOrder(rec model.OrderRecord) {
	fmt.Printf("order %d %s %s %s qty=%s filled=%s avg=%s status=%s\n",
		rec.ExchangeOrderID, rec.Intent.Symbol, rec.Intent.Side, rec.Intent.Kind,
		rec.Intent.Quantity, rec.FilledQty, rec.AvgPrice, rec.Status)
}

func statusAction(c *cli.Context) error {
	symbol, id, err := orderArgs(c, "status")
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	exec, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rec, err := exec.Status(ctx, symbol, id)
	if err != nil {
		return err
	}
	printOrder(rec)
	return nil
}

func cancelAction(c *cli.Context) error {
	symbol, id, err := orderArgs(c, "cancel")
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	exec, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rec, err := exec.Cancel(ctx, symbol, id)
	if err != nil {
		return err
	}
	printOrder(rec)
	return nil
}

func encryptAction(_ *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return keys.Run(os.Stdin, os.Stdout, cfg.Security.ExchangeCRKey)
}
