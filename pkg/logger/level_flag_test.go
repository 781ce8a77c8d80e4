/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestStringToLevel(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input    string
		expected zapcore.Level
		valid    bool
	}{
		{"debug", zapcore.DebugLevel, true},
		{"INFO", zapcore.InfoLevel, true},
		{"error", zapcore.ErrorLevel, true},
		{"1", zapcore.DebugLevel, true},
		{"4", zapcore.Level(-4), true},
		{"0", zapcore.WarnLevel, false},
		{"-3", zapcore.WarnLevel, false},
		{"chatty", zapcore.WarnLevel, false},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			level, err := StringToLevel(tc.input, zapcore.WarnLevel)
			if tc.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
			assert.Equal(t, tc.expected, level)
		})
	}
}

func TestLevelFlagAppliesLevel(t *testing.T) {
	t.Parallel()

	var applied zapcore.Level
	levelVal := NewLevelFlagValue(func(level zapcore.Level) { applied = level })

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.VarP(&levelVal, verbosityFlagName, verbosityFlagShortName, "")

	require.NoError(t, fs.Parse([]string{"-v=debug"}))
	assert.Equal(t, zapcore.DebugLevel, applied)
	assert.Equal(t, "debug", levelVal.String())
	assert.Equal(t, "level", levelVal.Type())

	require.Error(t, fs.Parse([]string{"-v=loud"}))
}
