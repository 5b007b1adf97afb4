package backtest

import (
	"errors"
	"fmt"
)

var (
	ErrNoBars                = errors.New("no bars")
	ErrBarsOutOfOrder        = errors.New("bars are not in chronological order")
	ErrTooFewStrategies      = errors.New("portfolio needs at least 2 strategies")
	ErrUnknownMetric         = errors.New("unknown metric")
	ErrUnknownStrategy       = errors.New("unknown strategy type")
	ErrAllCombinationsFailed = errors.New("all parameter combinations failed")
	ErrEngineUsed            = errors.New("engine already ran")
)

type ErrorKind string

const (
	KindConfig      ErrorKind = "config"
	KindStrategy    ErrorKind = "strategy"
	KindCombination ErrorKind = "combination"
)

// RunError is returned by Run, RunPortfolio and Optimize for failures that
// abort a run. Business rejections never surface as a RunError.
type RunError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

func configError(err error, format string, args ...any) *RunError {
	return &RunError{Kind: KindConfig, Msg: fmt.Sprintf(format, args...), Err: err}
}

func strategyError(err error, format string, args ...any) *RunError {
	return &RunError{Kind: KindStrategy, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the failure kind carried by err, or "" if err is not a RunError.
func KindOf(err error) ErrorKind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
