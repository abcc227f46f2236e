package main

import "gas-price-alerts/internal/cli"

func main() {
	cli.Execute()
}
