package main

import (
	"github.com/luma/hermes/cmd"
)

func main() {
	cmd.Execute()
}
