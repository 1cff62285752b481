package main

import "github.com/joinhall/lobbysync/internal/cli"

func main() {
	cli.Execute()
}
