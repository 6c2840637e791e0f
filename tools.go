//go:build tools

// Package tools pins the development tools used by this repository in go.mod.
// Install them with: go install -tags tools ./...
package tools

import (
	// Linting and formatting
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/tools/cmd/goimports"

	// Mock generation for pkg/interfaces
	_ "github.com/golang/mock/mockgen"

	// Test runners
	_ "github.com/onsi/ginkgo/v2/ginkgo"
	_ "gotest.tools/gotestsum"

	// Security scanning
	_ "github.com/securego/gosec/v2/cmd/gosec"
)
