// Package main is the entry point for the pipeline orchestration server.
package main

import (
	"fmt"
	"os"

	"github.com/zhangcong2019/hsf-pipeline/cmd"
	_ "github.com/zhangcong2019/hsf-pipeline/internal/nodes" // registers every built-in Node class
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
