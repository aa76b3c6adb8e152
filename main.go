package main

import "github.com/DagiiM/webops-sub005/cmd"

func main() {
	cmd.Execute()
}
