package main

import "github.com/LeJamon/xrplwatch/internal/cli"

func main() {
	cli.Execute()
}
