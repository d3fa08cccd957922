package executor

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"futuresbot/src/model"
	"futuresbot/src/risk"
	"futuresbot/src/strategy"
)

// Options are the flags the strategy commands accept.
type Options struct {
	Wait       bool
	ReduceOnly bool
	WithEntry  bool
	StopLimit  string
	LimitPrice string
	AutoRange  bool
	Duration   time.Duration
	Strict     bool
}

// Request is one parsed strategy invocation.
type Request struct {
	Params    strategy.Params
	Strict    bool
	AutoRange bool
	// Args echoes the command line and is stored with the run.
	Args []string
}

// Symbol returns the symbol the request trades.
func (r Request) Symbol() string {
	p := r.Params
	switch {
	case p.Market != nil:
		return p.Market.Symbol
	case p.Limit != nil:
		return p.Limit.Symbol
	case p.OCO != nil:
		return p.OCO.Symbol
	case p.TWAP != nil:
		return p.TWAP.Symbol
	case p.Grid != nil:
		return p.Grid.Symbol
	}
	return ""
}

// EncodedArgs is the JSON form of the command line stored with the run.
func (r Request) EncodedArgs() string {
	raw, err := json.Marshal(map[string]interface{}{
		"strategy": r.Params.Kind,
		"args":     r.Args,
		"strict":   r.Strict,
	})
	if err != nil {
		return ""
	}
	return string(raw)
}

var usage = map[strategy.Kind]string{
	strategy.KindMarket: "SYMBOL SIDE QUANTITY",
	strategy.KindLimit:  "SYMBOL SIDE QUANTITY PRICE [TIME_IN_FORCE]",
	strategy.KindOCO:    "SYMBOL SIDE QUANTITY TP_PRICE SL_PRICE [SL_LIMIT_PRICE]",
	strategy.KindTWAP:   "SYMBOL SIDE QUANTITY DURATION_MINUTES [NUM_CHUNKS]",
	strategy.KindGrid:   "SYMBOL LOWER_PRICE UPPER_PRICE GRID_LEVELS INVESTMENT",
}

// Usage returns the positional argument synopsis of a strategy command.
func Usage(kind strategy.Kind) string { return usage[kind] }

func arity(kind strategy.Kind, args []string, min, max int) error {
	if len(args) < min || len(args) > max {
		return model.ConfigError(string(kind), "usage: %s %s", kind, usage[kind])
	}
	return nil
}

func parseSide(v string) (model.Side, error) {
	side, err := model.ParseSide(v)
	if err != nil {
		return "", model.ConfigError("input", "%v", err)
	}
	return side, nil
}

// parseOptionalPrice accepts an empty value as zero.
func parseOptionalPrice(field, v string) (decimal.Decimal, error) {
	if strings.TrimSpace(v) == "" {
		return decimal.Zero, nil
	}
	return risk.ParsePrice(field, v)
}

// ParseArgs turns positional arguments and flags into strategy parameters. It fails with a
// configuration or validation error before anything touches the exchange.
func ParseArgs(kind strategy.Kind, args []string, opts Options) (Request, error) {
	req := Request{
		Params: strategy.Params{Kind: kind},
		Strict: opts.Strict,
		Args:   append([]string(nil), args...),
	}

	var err error
	switch kind {
	case strategy.KindMarket:
		if err = arity(kind, args, 3, 3); err != nil {
			return Request{}, err
		}
		p := &strategy.MarketParams{Symbol: risk.NormalizeSymbol(args[0]), ReduceOnly: opts.ReduceOnly}
		if p.Side, err = parseSide(args[1]); err != nil {
			return Request{}, err
		}
		if p.Quantity, err = risk.ParseQuantity("quantity", args[2]); err != nil {
			return Request{}, err
		}
		req.Params.Market = p

	case strategy.KindLimit:
		if err = arity(kind, args, 4, 5); err != nil {
			return Request{}, err
		}
		p := &strategy.LimitParams{
			Symbol:      risk.NormalizeSymbol(args[0]),
			TimeInForce: model.TimeInForceGTC,
			ReduceOnly:  opts.ReduceOnly,
			Wait:        opts.Wait,
		}
		if p.Side, err = parseSide(args[1]); err != nil {
			return Request{}, err
		}
		if p.Quantity, err = risk.ParseQuantity("quantity", args[2]); err != nil {
			return Request{}, err
		}
		if p.Price, err = risk.ParsePrice("price", args[3]); err != nil {
			return Request{}, err
		}
		if len(args) == 5 {
			if p.TimeInForce, err = model.ParseTimeInForce(args[4]); err != nil {
				return Request{}, model.ConfigError("input", "%v", err)
			}
		}
		req.Params.Limit = p

	case strategy.KindOCO:
		if err = arity(kind, args, 5, 6); err != nil {
			return Request{}, err
		}
		p := &strategy.OcoParams{Symbol: risk.NormalizeSymbol(args[0]), WithEntry: opts.WithEntry}
		if p.Side, err = parseSide(args[1]); err != nil {
			return Request{}, err
		}
		if p.Quantity, err = risk.ParseQuantity("quantity", args[2]); err != nil {
			return Request{}, err
		}
		if p.TakeProfit, err = risk.ParsePrice("tp_price", args[3]); err != nil {
			return Request{}, err
		}
		if p.StopLoss, err = risk.ParsePrice("sl_price", args[4]); err != nil {
			return Request{}, err
		}
		stopLimit := opts.StopLimit
		if len(args) == 6 {
			stopLimit = args[5]
		}
		if p.StopLimitPrice, err = parseOptionalPrice("sl_limit_price", stopLimit); err != nil {
			return Request{}, err
		}
		req.Params.OCO = p

	case strategy.KindTWAP:
		if err = arity(kind, args, 4, 5); err != nil {
			return Request{}, err
		}
		p := &strategy.TwapParams{Symbol: risk.NormalizeSymbol(args[0])}
		if p.Side, err = parseSide(args[1]); err != nil {
			return Request{}, err
		}
		if p.Quantity, err = risk.ParseQuantity("quantity", args[2]); err != nil {
			return Request{}, err
		}
		minutes, err := strconv.Atoi(args[3])
		if err != nil || minutes <= 0 {
			return Request{}, model.ConfigError("input", "duration_minutes must be a positive integer, got %q", args[3])
		}
		p.Duration = time.Duration(minutes) * time.Minute
		if len(args) == 5 {
			if p.Chunks, err = strconv.Atoi(args[4]); err != nil || p.Chunks <= 0 {
				return Request{}, model.ConfigError("input", "num_chunks must be a positive integer, got %q", args[4])
			}
		}
		if p.LimitPrice, err = parseOptionalPrice("limit_price", opts.LimitPrice); err != nil {
			return Request{}, err
		}
		req.Params.TWAP = p

	case strategy.KindGrid:
		if err = arity(kind, args, 5, 5); err != nil {
			return Request{}, err
		}
		p := &strategy.GridParams{Symbol: risk.NormalizeSymbol(args[0]), Duration: opts.Duration}
		if p.Lower, p.Upper, err = parseBounds(args[1], args[2], opts.AutoRange); err != nil {
			return Request{}, err
		}
		if p.Levels, err = strconv.Atoi(args[3]); err != nil {
			return Request{}, model.ConfigError("input", "grid_levels must be an integer, got %q", args[3])
		}
		if p.Investment, err = risk.ParsePrice("investment", args[4]); err != nil {
			return Request{}, err
		}
		req.AutoRange = opts.AutoRange && p.Lower.IsZero() && p.Upper.IsZero()
		req.Params.Grid = p

	default:
		return Request{}, model.ConfigError("input", "unknown strategy %q", kind)
	}
	return req, nil
}

// parseBounds reads the grid range. Zero bounds are accepted when the range is derived from
// market data.
func parseBounds(lower, upper string, autoRange bool) (decimal.Decimal, decimal.Decimal, error) {
	if autoRange {
		l, errL := decimal.NewFromString(strings.TrimSpace(lower))
		u, errU := decimal.NewFromString(strings.TrimSpace(upper))
		if errL == nil && errU == nil && l.IsZero() && u.IsZero() {
			return l, u, nil
		}
	}
	l, err := risk.ParsePrice("lower_price", lower)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	u, err := risk.ParsePrice("upper_price", upper)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return l, u, nil
}

// ParseLine parses one batch line: a strategy name, its flags, then its positional arguments.
//
//	twap --strict BTCUSDT BUY 0.01 30 5
func ParseLine(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Request{}, model.ConfigError("batch", "empty line")
	}
	kind, err := strategy.ParseKind(fields[0])
	if err != nil {
		return Request{}, err
	}

	var opts Options
	fs := flag.NewFlagSet(string(kind), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&opts.Wait, "wait", false, "")
	fs.BoolVar(&opts.ReduceOnly, "reduce-only", false, "")
	fs.BoolVar(&opts.WithEntry, "with-entry", false, "")
	fs.StringVar(&opts.StopLimit, "sl-limit", "", "")
	fs.StringVar(&opts.LimitPrice, "limit-price", "", "")
	fs.BoolVar(&opts.AutoRange, "auto-range", false, "")
	fs.DurationVar(&opts.Duration, "duration", 0, "")
	fs.BoolVar(&opts.Strict, "strict", false, "")
	if err := fs.Parse(fields[1:]); err != nil {
		return Request{}, model.ConfigError("batch", "%s: %v", kind, err)
	}
	return ParseArgs(kind, fs.Args(), opts)
}

// ParseBatch reads one strategy per line. Blank lines and lines starting with # are skipped.
// Every bad line is reported, so nothing runs until the whole file is valid.
func ParseBatch(r io.Reader) ([]Request, error) {
	var (
		reqs []Request
		errs []string
	)
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		req, err := ParseLine(line)
		if err != nil {
			errs = append(errs, fmt.Sprintf("line %d: %v", n, err))
			continue
		}
		reqs = append(reqs, req)
	}
	if err := sc.Err(); err != nil {
		return nil, model.ConfigError("batch", "read: %v", err)
	}
	if len(errs) > 0 {
		return nil, model.ConfigError("batch", "%s", strings.Join(errs, "; "))
	}
	if len(reqs) == 0 {
		return nil, model.ConfigError("batch", "no strategies to run")
	}
	return reqs, nil
}
