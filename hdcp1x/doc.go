// https://github.com/usbarmory/hdcp1x
//
// Copyright (c) the hdcp1x authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hdcp1x implements the HDCP 1.x transmitter authentication state
// machine: the control-plane driver that performs the HDCP Part 1 (and
// Part 2 repeater) authentication handshake with a downstream receiver over
// an HDMI or DisplayPort sideband channel, drives a hardware cipher block to
// perform key generation and stream encryption, and maintains link
// integrity thereafter.
//
// The package does not implement the cipher block, the sideband transport,
// or device discovery. Those are narrow capability interfaces (Cipher,
// Port, Platform) that a caller supplies; concrete adapters live in sibling
// packages (sim, ddc, usbddc).
package hdcp1x
