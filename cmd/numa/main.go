// Package main implements the numa CLI.
package main

func main() {
	Execute()
}
