package main

import "wakit/cmd"

func main() {
	cmd.Execute()
}
