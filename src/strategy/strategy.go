package strategy

import (
	"context"
	"strings"

	"futuresbot/src/model"
)

// Kind selects the strategy handler.
type Kind string

const (
	KindMarket Kind = "market"
	KindLimit  Kind = "limit"
	KindOCO    Kind = "oco"
	KindTWAP   Kind = "twap"
	KindGrid   Kind = "grid"
)

// ParseKind accepts a strategy name in any case.
func ParseKind(v string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(v))); k {
	case KindMarket, KindLimit, KindOCO, KindTWAP, KindGrid:
		return k, nil
	default:
		return "", model.ConfigError("strategy", "unknown strategy %q", v)
	}
}

// StrategyRunner is implemented by every strategy handler. Run is one sequential flow that
// returns once the plan is terminal or ctx is canceled and cleanup is done. Summary may be called
// at any time, including while Run is still going.
type StrategyRunner interface {
	Kind() Kind
	Symbol() string
	Run(ctx context.Context) error
	Summary() Summary
}

// Params is a tagged variant: Kind names which of the pointers is set.
type Params struct {
	Kind   Kind
	Market *MarketParams
	Limit  *LimitParams
	OCO    *OcoParams
	TWAP   *TwapParams
	Grid   *GridParams
}

// New builds the handler for p. Configuration errors are reported here, before any exchange call.
func New(env Env, runID string, p Params) (StrategyRunner, error) {
	switch p.Kind {
	case KindMarket:
		if p.Market == nil {
			return nil, missingParams(p.Kind)
		}
		return NewMarket(env, runID, *p.Market)
	case KindLimit:
		if p.Limit == nil {
			return nil, missingParams(p.Kind)
		}
		return NewLimit(env, runID, *p.Limit)
	case KindOCO:
		if p.OCO == nil {
			return nil, missingParams(p.Kind)
		}
		return NewOCO(env, runID, *p.OCO)
	case KindTWAP:
		if p.TWAP == nil {
			return nil, missingParams(p.Kind)
		}
		return NewTWAP(env, runID, *p.TWAP)
	case KindGrid:
		if p.Grid == nil {
			return nil, missingParams(p.Kind)
		}
		return NewGrid(env, runID, *p.Grid)
	default:
		return nil, model.ConfigError("strategy", "unknown strategy %q", p.Kind)
	}
}

func missingParams(k Kind) error {
	return model.ConfigError("strategy", "missing %s parameters", k)
}

// escalate turns an exhausted network error into the kind the plan reports: fatal for a single
// call, partial failure once some steps already happened.
func escalate(op string, err error, multiStep bool) error {
	if model.KindOf(err) != model.KindNetwork {
		return err
	}
	if multiStep {
		return model.PartialFailure(op, "network failure after retries", err)
	}
	return &model.Error{Kind: model.KindFatal, Op: op, Reason: "network failure after retries", Err: err}
}
