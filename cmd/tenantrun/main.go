// Package main is the entry point for the tenantrun daemon and operator CLI.
package main

import (
	"os"

	"github.com/xraph/tenantrun/cmd/tenantrun/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
