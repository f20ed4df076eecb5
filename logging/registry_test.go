package logging

import (
	"strings"
	"testing"

	"go.viam.com/test"
)

func verifySetLevels(registry *Registry, expectedMatches map[string]string) bool {
	for name, level := range expectedMatches {
		logger, ok := registry.loggerNamed(name)
		if !ok || !strings.EqualFold(level, logger.GetLevel().String()) {
			return false
		}
	}
	return true
}

func createTestRegistry(loggerNames []string) *Registry {
	manager := newRegistry()
	for _, name := range loggerNames {
		manager.registerLogger(name, newImpl(name, INFO, true))
	}
	return manager
}

func TestValidatePattern(t *testing.T) {
	t.Parallel()

	type testCfg struct {
		pattern string
		isValid bool
	}

	tests := []testCfg{
		// Valid patterns
		{"nect.device", true},
		{"nect.device.*", true},
		{"nect.*.session", true},
		{"nect.*.*", true},
		{"*.session", true},
		{"*", true},
		{"calibration-controller.012345", true},

		// Invalid patterns
		{"nect..device", false},
		{"nect.device.", false},
		{".nect.device", false},
		{"nect.device.**", false},
		{"nect.**.device", false},

		// Invalid patterns with special characters
		{"_.nect.device", false},
		{"-.nect", false},
		{"nect.-", false},
		{"nect.-.device", false},
		{"nect._.device", false},
		{"nect:device/foo", false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.pattern, func(t *testing.T) {
			t.Parallel()
			test.That(t, validatePattern(tc.pattern), test.ShouldEqual, tc.isValid)
		})
	}
}

func TestUpdateLoggerRegistry(t *testing.T) {
	type testCfg struct {
		loggerConfig    []LoggerPatternConfig
		loggerNames     []string
		expectedMatches map[string]string
	}

	tests := []testCfg{
		{
			loggerConfig: []LoggerPatternConfig{
				{Pattern: "nect.device", Level: "WARN"},
			},
			loggerNames: []string{
				"nect.device",
				"nect.device.session",
				"nect.calibration",
			},
			expectedMatches: map[string]string{
				"nect.device":         "WARN",
				"nect.device.session": "INFO",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{Pattern: "nect.*", Level: "DEBUG"},
			},
			loggerNames: []string{
				"nect.device",
				"nect.calibration.controller",
				"nect.device.session.012345",
			},
			expectedMatches: map[string]string{
				"nect.device":                 "DEBUG",
				"nect.calibration.controller": "DEBUG",
				"nect.device.session.012345":  "DEBUG",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{Pattern: "nect.*.session", Level: "ERROR"},
			},
			loggerNames: []string{
				"nect.device.session",
				"nect.replay.session",
				"nect.device.switcher",
			},
			expectedMatches: map[string]string{
				"nect.device.session":  "ERROR",
				"nect.replay.session":  "ERROR",
				"nect.device.switcher": "INFO",
			},
		},
		{
			// Later patterns win.
			loggerConfig: []LoggerPatternConfig{
				{Pattern: "nect.*", Level: "DEBUG"},
				{Pattern: "nect.device", Level: "WARN"},
			},
			loggerNames: []string{
				"nect.device",
			},
			expectedMatches: map[string]string{
				"nect.device": "WARN",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{Pattern: "_.*.session", Level: "DEBUG"},
			},
			loggerNames: []string{
				"nect.device",
			},
			expectedMatches: map[string]string{
				"nect.device": "INFO",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{Pattern: "a.b", Level: "DEBUG"},
			},
			loggerNames: []string{
				"a.b.c",
			},
			expectedMatches: map[string]string{
				"a.b.c": "INFO",
			},
		},
	}

	for _, tc := range tests {
		testRegistry := createTestRegistry(tc.loggerNames)

		err := testRegistry.Update(tc.loggerConfig, NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, verifySetLevels(testRegistry, tc.expectedMatches), test.ShouldBeTrue)
		test.That(t, testRegistry.currentConfig(), test.ShouldResemble, tc.loggerConfig)
	}
}

func TestUpdateLoggerRegistryBadLevel(t *testing.T) {
	testRegistry := createTestRegistry([]string{"nect"})
	err := testRegistry.Update([]LoggerPatternConfig{{Pattern: "nect", Level: "loud"}}, NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown log level")
}

func TestGetOrRegisterAppliesConfig(t *testing.T) {
	testRegistry := newRegistry()
	err := testRegistry.Update([]LoggerPatternConfig{{Pattern: "nect.device.*", Level: "ERROR"}}, NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	first := testRegistry.getOrRegister("nect.device.session", newImpl("nect.device.session", INFO, true))
	test.That(t, first.GetLevel(), test.ShouldEqual, ERROR)

	// A racing registration under the same name returns the winner.
	second := testRegistry.getOrRegister("nect.device.session", newImpl("nect.device.session", DEBUG, true))
	test.That(t, second, test.ShouldEqual, first)

	other := testRegistry.getOrRegister("nect.calibration", newImpl("nect.calibration", DEBUG, true))
	test.That(t, other.GetLevel(), test.ShouldEqual, DEBUG)
}
