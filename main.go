package main

import "github.com/omnidotdev/synapse/cmd"

func main() {
	cmd.Execute()
}
