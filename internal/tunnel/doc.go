// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package tunnel carries Debug Adapter Protocol sessions over messenger channels.
//
// On the server side, AdapterSessionHandler connects each channel opened by a client to a debug adapter.
// On the client side, Tunnel accepts IDE connections and opens a channel for each of them.
package tunnel
