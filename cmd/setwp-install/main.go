package main

import "github.com/alexcormier/setwp/cmd/setwp-install/cmd"

func main() {
	cmd.Execute()
}
