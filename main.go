package main

import "github.com/stephnangue/lessor/cmd"

func main() {
	cmd.Execute()
}
