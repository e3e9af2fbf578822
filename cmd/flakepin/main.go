package main

import "flakepin/internal/cli"

func main() {
	cli.Execute()
}
