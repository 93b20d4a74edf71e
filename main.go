package main

import "github.com/kozaktomas/trueface/cmd"

func main() {
	cmd.Execute()
}
