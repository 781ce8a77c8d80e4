/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package testutil

import (
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/mock"
)

// MockLoggerSink is a logr sink whose calls can be asserted with testify/mock.
type MockLoggerSink struct {
	mock.Mock
}

// NewPermissiveMockLoggerSink returns a sink that accepts every call at every level,
// so that tests only need to set up (and assert) the calls they care about.
func NewPermissiveMockLoggerSink() *MockLoggerSink {
	m := &MockLoggerSink{}
	m.On("Init", mock.Anything).Maybe()
	m.On("Enabled", mock.Anything).Return(true).Maybe()
	m.On("WithName", mock.Anything).Return(m).Maybe()
	m.On("WithValues", mock.Anything).Return(m).Maybe()
	return m
}

func (m *MockLoggerSink) Enabled(level int) bool {
	args := m.Called(level)
	return args.Bool(0)
}

func (m *MockLoggerSink) Error(err error, msg string, keysAndValues ...interface{}) {
	m.Called(err, msg, keysAndValues)
}

func (m *MockLoggerSink) Info(level int, msg string, keysAndValues ...interface{}) {
	m.Called(level, msg, keysAndValues)
}

func (m *MockLoggerSink) Init(info logr.RuntimeInfo) {
	m.Called(info)
}

func (m *MockLoggerSink) WithName(name string) logr.LogSink {
	args := m.Called(name)
	return args.Get(0).(logr.LogSink)
}

func (m *MockLoggerSink) WithValues(keysAndValues ...interface{}) logr.LogSink {
	args := m.Called(keysAndValues)
	return args.Get(0).(logr.LogSink)
}

var _ logr.LogSink = (*MockLoggerSink)(nil)
