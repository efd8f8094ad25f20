package main

import "stemsplit/cmd"

func main() {
	cmd.Execute()
}
