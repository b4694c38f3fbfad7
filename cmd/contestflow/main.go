// Package main implements the contestflow CLI tool
package main

import "github.com/davidroman0O/contestflow/cmd"

func main() {
	cmd.Execute()
}
