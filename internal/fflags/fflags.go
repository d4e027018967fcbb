// Package fflags is a minimal env-var driven feature flag source. It will be
// replaced with a proper flags backend if the console ever needs per-user
// rollouts.
package fflags

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
)

type FFlags struct {
	logger *zap.SugaredLogger
}

type FFlag struct {
	env          string
	defaultValue bool
}

var hardCodedFlags = map[string]FFlag{
	// live change-feed streams on the tables and devices endpoints
	"realtime": {"GRIDPORT_FFLAG_REALTIME", true},
	// device widget presentations on the dashboard endpoint
	"widgets": {"GRIDPORT_FFLAG_WIDGETS", true},
	// write operations on arbitrary introspected tables
	"table-editor": {"GRIDPORT_FFLAG_TABLE_EDITOR", true},
}

func NewFFlags(logger *zap.SugaredLogger) *FFlags {
	return &FFlags{
		logger: logger,
	}
}

func (f *FFlags) getFlagValue(fflag FFlag) bool {
	if envValue, err := strconv.ParseBool(os.Getenv(fflag.env)); err == nil {
		return envValue
	}
	return fflag.defaultValue
}

// ListFlags returns a map of all currently defined feature flags and
// whether those features are enabled (true) or not (false).
func (f *FFlags) ListFlags() map[string]bool {
	result := map[string]bool{}
	for name, fflag := range hardCodedFlags {
		result[name] = f.getFlagValue(fflag)
	}
	return result
}

// GetFlag returns whether the feature named by the string parameter
// flag is enabled (true) or not (false). An error is returned if
// the flag name is invalid.
func (f *FFlags) GetFlag(flag string) (bool, error) {
	fflag, ok := hardCodedFlags[flag]
	if !ok {
		f.logger.Errorf("invalid feature flag name: %s", flag)
		return false, fmt.Errorf("invalid feature flag name: %s", flag)
	}
	return f.getFlagValue(fflag), nil
}
