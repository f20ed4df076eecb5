package logging

import (
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// LoggerPatternConfig sets the level of every logger whose name matches the pattern. Patterns are
// dot separated logger name sections where `*` matches any run of sections, e.g.
// `nect.device.*`.
type LoggerPatternConfig struct {
	Pattern string `json:"pattern"`
	Level   string `json:"level"`
}

const (
	// e.g. "foo" or "foo-bar_baz".
	validLoggerSectionName = `[a-zA-Z0-9]+([_-]*[a-zA-Z0-9]+)*`
	// e.g. "foo" or "*".
	validLoggerSectionNameWithWildcard = `(` + validLoggerSectionName + `|\*)`
	// e.g. "foo.*.foo".
	validLoggerName = `^` + validLoggerSectionNameWithWildcard + `(\.` + validLoggerSectionNameWithWildcard + `)*$`
)

var loggerPatternRegexp = regexp.MustCompile(validLoggerName)

var globalRegistry = newRegistry()

func validatePattern(pattern string) bool {
	return loggerPatternRegexp.MatchString(pattern)
}

func buildRegexFromPattern(pattern string) string {
	var matcher strings.Builder
	matcher.WriteRune('^')
	for _, ch := range pattern {
		switch ch {
		case '*':
			matcher.WriteString(`.*`)
		case '.':
			matcher.WriteString(`\.`)
		default:
			matcher.WriteRune(ch)
		}
	}
	matcher.WriteRune('$')
	return matcher.String()
}

// Registry tracks named loggers so that their levels can be changed by pattern at runtime, e.g.
// after the config file is edited.
type Registry struct {
	mu        sync.RWMutex
	loggers   map[string]Logger
	logConfig []LoggerPatternConfig
}

func newRegistry() *Registry {
	return &Registry{
		loggers: make(map[string]Logger),
	}
}

// UpdateLoggerConfig applies the patterns to every logger created through `NewLogger`,
// `NewDebugLogger` or `Sublogger`.
func UpdateLoggerConfig(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	return globalRegistry.Update(logConfig, errorLogger)
}

func (lr *Registry) registerLogger(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
}

func (lr *Registry) loggerNamed(name string) (logger Logger, ok bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok = lr.loggers[name]
	return
}

// applyConfigLocked sets the level of a newly registered logger from the current patterns. Later
// patterns win. Callers hold `mu`.
func (lr *Registry) applyConfigLocked(name string, logger Logger) {
	for _, lpc := range lr.logConfig {
		if !validatePattern(lpc.Pattern) {
			continue
		}
		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil || !r.MatchString(name) {
			continue
		}
		level, err := LevelFromString(lpc.Level)
		if err != nil {
			continue
		}
		logger.SetLevel(level)
	}
}

// Update replaces the pattern configs and re-levels every registered logger. Loggers that match
// no pattern are reset to INFO. Invalid patterns are reported to `errorLogger` and skipped.
func (lr *Registry) Update(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	appliedConfigs := make(map[string]Level)
	names := lr.registeredNames()
	for _, lpc := range logConfig {
		if !validatePattern(lpc.Pattern) {
			errorLogger.Warnw("failed to validate a pattern", "pattern", lpc.Pattern)
			continue
		}

		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil {
			return err
		}
		level, err := LevelFromString(lpc.Level)
		if err != nil {
			return errors.Wrapf(err, "pattern %q", lpc.Pattern)
		}

		for _, name := range names {
			if r.MatchString(name) {
				appliedConfigs[name] = level
			}
		}
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.logConfig = logConfig
	for name, logger := range lr.loggers {
		level, ok := appliedConfigs[name]
		if !ok {
			level = INFO
		}
		logger.SetLevel(level)
	}

	return nil
}

func (lr *Registry) registeredNames() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	registeredNames := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		registeredNames = append(registeredNames, name)
	}
	return registeredNames
}

func (lr *Registry) currentConfig() []LoggerPatternConfig {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	return lr.logConfig
}

// getOrRegister will either:
//   - return an existing logger for the input logger `name` or
//   - register the input `logger` for the given logger `name` and configure it based on the
//     existing patterns.
//
// Such that if concurrent callers try registering the same logger, the "winner"s logger will be
// registered and all losers will return the winning logger.
func (lr *Registry) getOrRegister(name string, logger Logger) Logger {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if existingLogger, ok := lr.loggers[name]; ok {
		return existingLogger
	}

	lr.loggers[name] = logger
	lr.applyConfigLocked(name, logger)
	return logger
}
