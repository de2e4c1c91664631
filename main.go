package main

import (
	"resonate/cmd"
)

func main() {
	cmd.Execute()
}
