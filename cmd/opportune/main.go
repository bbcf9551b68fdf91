// Package main is the opportune entry point.
package main

import "github.com/thebtf/opportune/internal/cmd"

func main() {
	cmd.Execute()
}
