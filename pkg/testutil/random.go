/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package testutil

import (
	"crypto/rand"
	"testing"
)

// GetRandBytes returns count bytes of random data.
func GetRandBytes(t *testing.T, count int) []byte {
	retval := make([]byte, count)
	if _, err := rand.Read(retval); err != nil {
		t.Fatalf("Could not create random data: %v", err)
	}
	return retval
}
