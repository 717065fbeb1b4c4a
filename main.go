// Package main is the entry point for the ExplorViz persistence service.
package main

import (
	"context"
	"os"

	"explorviz/cmd"
)

func main() {
	os.Exit(cmd.Execute(context.Background(), os.Args[1:], os.Stderr))
}
