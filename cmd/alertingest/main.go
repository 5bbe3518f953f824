package main

import "transient-alerts/internal/cli"

func main() {
	cli.Execute()
}
