package main

import "go-daw/cmd"

func main() {
	cmd.Execute()
}
