package main

import (
	"os"

	"portalquejas/internal/auditctl"
)

func main() {
	root := auditctl.NewRootCommand(auditctl.DefaultConfig())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
