package main

import "github.com/mohammad-safakhou/ideaforge/cmd"

func main() {
	cmd.Execute()
}
