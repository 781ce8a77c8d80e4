/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package version

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionOutputSerialization(t *testing.T) {
	// Not parallel: modifies package-level build variables.
	savedVersion, savedTimestamp := ProductVersion, BuildTimestamp
	defer func() { ProductVersion, BuildTimestamp = savedVersion, savedTimestamp }()

	ProductVersion = "1.2.3"
	BuildTimestamp = "1700000000"

	data, err := json.Marshal(Version())
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1.2.3","buildTimestamp":"2023-11-14T22:13:20Z","managementProtocolVersion":1}`, string(data))

	var parsed VersionOutput
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.NotNil(t, parsed.BuildTime)
	assert.True(t, parsed.BuildTime.Equal(time.Unix(1700000000, 0)))

	ProductVersion = ""
	BuildTimestamp = ""
	data, err = json.Marshal(Version())
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"dev","buildTimestamp":null,"managementProtocolVersion":1}`, string(data))
}
