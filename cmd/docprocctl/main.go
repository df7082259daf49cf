// Command docprocctl is the operator CLI for the document pipeline. It applies
// the schema directly and talks to the API for everything else.
//
// Usage:
//
//	docprocctl migrate [--config configs/development.yaml]
//	docprocctl submit report.pdf [--api http://localhost:8000]
//	docprocctl status <task_id>
//	docprocctl revoke <task_id>
//	docprocctl documents [--recent]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
