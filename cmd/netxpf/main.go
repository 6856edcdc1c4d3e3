package main

import "github.com/livp123/netxpf/cmd/netxpf/commands"

func main() {
	commands.Execute()
}
