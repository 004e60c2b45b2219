/*
Package logging constructs the zap logger shared by the edgegate daemons. Components accept a
*zap.Logger in their constructors and treat nil as zap.NewNop() so library users and tests are
never forced to configure logging.
*/
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style console logger at the nominated level. Level is one of zap's
// textual levels: debug, info, warn, error... An empty string means info.
func New(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if len(level) > 0 {
		var err error
		lvl, err = zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("logging: unknown log level %q: %w", level, err)
		}
	}

	zCfg := zap.NewProductionConfig()
	zCfg.Level = zap.NewAtomicLevelAt(lvl)
	zCfg.Encoding = "console"
	zCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zCfg.Build()
}

// Or returns log if it is usable, otherwise a no-op logger. Saves every constructor from the same
// nil check.
func Or(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}

	return log
}
