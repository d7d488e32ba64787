// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mtp40f is a driver for the MTP40-F NDIR CO2 sensor attached over a
// UART (9600 8N1).
//
// Every exchange is a command frame followed by a fixed-length response frame.
// Both start with the 0x42 0x4D magic and end with a 16-bit big-endian
// checksum which, despite the datasheet calling it a CRC, is the wraparound
// sum of every preceding byte.
//
// The sensor refreshes its measurement every two seconds, so Dev caches the
// last good concentration and only queries the device once per refresh
// interval. Failed exchanges never clobber the cached value.
package mtp40f
