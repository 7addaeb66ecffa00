package main

import "github.com/ramiqadoumi/go-resilience/services/dashboard/cli"

func main() {
	cli.Execute()
}
