package connectors

import (
	"errors"
	"fmt"
	"net/http"

	"futuresbot/src/model"
)

// Binance futures error codes the engine reacts to.
const (
	codeTooManyRequests = -1003
	codeBadSymbol       = -1121
	codeCancelRejected  = -2011
	codeNoSuchOrder     = -2013
)

// BinanceErrorCodes maps Binance futures error codes to their names.
var BinanceErrorCodes = map[int]string{
	-1000: "UNKNOWN",                                // unknown error while processing the request
	-1001: "DISCONNECTED",                           // internal error, unable to process
	-1003: "TOO_MANY_REQUESTS",                      // request weight exceeded
	-1006: "UNEXPECTED_RESP",                        // unexpected response from the message bus
	-1007: "TIMEOUT",                                // backend timeout, status unknown
	-1013: "INVALID_MESSAGE",                        // filter failure
	-1021: "INVALID_TIMESTAMP",                      // timestamp outside recvWindow
	-1022: "INVALID_SIGNATURE",                      // signature not valid
	-1102: "MANDATORY_PARAM_EMPTY_OR_MALFORMED",     // missing or malformed parameter
	-1111: "BAD_PRECISION",                          // too many decimals for the symbol
	-1116: "INVALID_ORDER_TYPE",                     // unsupported order type
	-1117: "INVALID_SIDE",                           // side must be BUY or SELL
	-1121: "BAD_SYMBOL",                             // invalid symbol
	-2010: "NEW_ORDER_REJECTED",                     // order rejected by the matching engine
	-2011: "CANCEL_REJECTED",                        // unknown order sent on cancel
	-2013: "NO_SUCH_ORDER",                          // order does not exist
	-2014: "BAD_API_KEY_FMT",                        // API key format invalid
	-2015: "REJECTED_MBX_KEY",                       // invalid key, IP or permissions
	-2019: "MARGIN_NOT_SUFFICIENT",                  // not enough margin
	-2021: "ORDER_WOULD_IMMEDIATELY_TRIGGER",        // stop price would trigger now
	-2022: "REDUCE_ONLY_REJECT",                     // reduce only order rejected
	-4003: "QTY_LESS_THAN_ZERO",                     // quantity below zero
	-4014: "PRICE_NOT_INCREASED_BY_TICK_SIZE",       // price not a multiple of tick size
	-4023: "QTY_NOT_INCREASED_BY_STEP_SIZE",         // quantity not a multiple of step size
	-4028: "INVALID_LEVERAGE",                       // leverage out of range
	-4131: "MARKET_ORDER_REJECT",                    // counterparty best price outside limit
	-4164: "MIN_NOTIONAL",                           // notional below the symbol minimum
	-5022: "GTX_ORDER_REJECT",                       // post only order would take
	-4116: "DUPLICATED_CLIENT_ORDER_ID",             // clientOrderId already used
	-4061: "POSITION_SIDE_NOT_MATCH",                // position side does not match setting
	-4046: "NO_NEED_TO_CHANGE_MARGIN_TYPE",          // margin type already set
	-4059: "NO_NEED_TO_CHANGE_POSITION_SIDE",        // position side already set
	-1125: "INVALID_LISTEN_KEY",                     // listen key does not exist
	-1128: "OPTIONAL_PARAMS_BAD_COMBO",              // combination of optional params invalid
	-2018: "BALANCE_NOT_SUFFICIENT",                 // balance not sufficient
	-2020: "UNABLE_TO_FILL",                         // FOK order could not be filled
	-2027: "MAX_LEVERAGE_RATIO",                     // position exceeds leverage bracket
	-2028: "MIN_LEVERAGE_RATIO",                     // leverage below bracket minimum
	-4015: "CLIENT_ORDER_ID_INVALID",                // client order id too long or malformed
	-4044: "INVALID_MARGIN_TYPE",                    // margin type invalid
	-4005: "QTY_GREATER_THAN_MAX_QTY",               // quantity above maximum
	-4024: "PRICE_LESS_THAN_MIN_PRICE",              // price below minimum
	-4025: "PRICE_GREATER_THAN_MAX_PRICE",           // price above maximum
	-4013: "PRICE_LESS_THAN_ZERO",                   // price below zero
	-1106: "PARAM_NOT_REQUIRED",                     // parameter sent when not required
	-1104: "UNREAD_PARAMETERS",                      // not all parameters were read
	-4000: "INVALID_ORDER_STATUS",                   // invalid order status
	-4045: "MAX_STOP_ORDER_EXCEEDED",                // too many stop orders
	-4135: "INVALID_ACTIVATION_PRICE",               // activation price invalid
	-4400: "TRADING_QUANTITATIVE_RULE",              // account restricted by trading rules
	-4087: "REDUCE_ONLY_ORDER_PERMISSION",           // user can only place reduce only orders
	-4088: "NO_PLACE_ORDER_PERMISSION",              // user cannot place orders
	-4118: "REDUCE_ONLY_MARGIN_CHECK_FAILED",        // reduce only failed margin check
	-4140: "INVALID_SYMBOL_STATUS",                  // symbol not trading
	-4192: "TRADE_FORBIDDEN_SYMBOL_COOLING_OFF",     // symbol in cooling off period
	-4165: "INVALID_TIME_INTERVAL",                  // invalid time interval
	-4183: "PRICE_HIGHTER_THAN_STOP_MULTIPLIER_UP",  // limit price above stop multiplier
	-4184: "PRICE_LOWER_THAN_STOP_MULTIPLIER_DOWN",  // limit price below stop multiplier
}

// GetErrorMsg returns the code name, or a generic message for unknown codes.
func GetErrorMsg(code int) string {
	if msg, ok := BinanceErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_ERROR_CODE_%d", code)
}

// APIError is an error body returned by the exchange.
type APIError struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance error %d (%s): %s", e.Code, GetErrorMsg(e.Code), e.Msg)
}

// classify maps transport and exchange errors onto the engine taxonomy. Cancel specific codes are
// handled by the caller since they need an extra status lookup.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Status == http.StatusTooManyRequests || apiErr.Status == http.StatusTeapot || apiErr.Code == codeTooManyRequests:
		return fmt.Errorf("%s: %w: %s", op, model.ErrRateLimited, apiErr.Msg)
	case apiErr.Code == codeBadSymbol:
		return fmt.Errorf("%s: %w: %s", op, model.ErrSymbolNotFound, apiErr.Msg)
	case apiErr.Code == codeNoSuchOrder || apiErr.Code == codeCancelRejected:
		return fmt.Errorf("%s: %w: %s", op, model.ErrOrderNotFound, apiErr.Msg)
	case apiErr.Status >= 500:
		return model.NetworkError(op, apiErr)
	default:
		return model.ExchangeRejected(op, GetErrorMsg(apiErr.Code), apiErr)
	}
}
