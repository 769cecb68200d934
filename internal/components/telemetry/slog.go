package telemetry

import (
	"context"
	"log/slog"
	"os"
	"strconv"
)

// InitSlog installs a text handler on stderr as the default logger, debug records are only kept
// when `debug` is set.
func InitSlog(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func DebugEnabled() bool {
	return slog.Default().Enabled(context.Background(), slog.LevelDebug)
}

// SlogAPI writes reports to the default slog logger. A leading error param is logged as `err`,
// the remaining params as `p0`, `p1`, ...
type SlogAPI struct{}

func (SlogAPI) attrs(params []any, out []any) []any {
	if len(params) > 0 {
		if err, ok := params[0].(error); ok {
			out = append(out, "err", err.Error())
			params = params[1:]
		}
	}
	for i, p := range params {
		out = append(out, "p"+strconv.Itoa(i), p)
	}
	return out
}

func (s SlogAPI) ReportBroken(id string, params ...any) {
	slog.Error("broken: "+id, s.attrs(params, nil)...)
}

func (s SlogAPI) ReportWarning(id string, params ...any) {
	slog.Warn("warning: "+id, s.attrs(params, nil)...)
}

func (s SlogAPI) ReportDebug(msg string, params ...any) {
	if !DebugEnabled() {
		return
	}
	slog.Debug(msg, s.attrs(params, nil)...)
}

func (s SlogAPI) ReportCount(id string, count int64) {
	slog.Info("count: "+id, "n", count)
}
