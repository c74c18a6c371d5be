package main

import "flowguard/cmd/cli"

func main() {
	cli.Execute()
}
