//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for the databind project using Mage.
//
// Usage:
//
//	mage build           Compile the databind binary to bin/
//	mage install         Install databind to GOPATH/bin
//	mage clean           Remove build artifacts
//	mage test            Run all tests (unit + integration)
//	mage testUnit        Run only unit tests (exclude integration)
//	mage testIntegration Run only integration tests (builds first)
//	mage testRace        Run unit tests with the race detector
//	mage cover           Write a coverage profile and print the summary
//	mage lint            Run golangci-lint
//	mage stats           Print Go lines of code per package as JSON
package main
