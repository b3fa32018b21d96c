package main

import "github.com/vnykmshr/tokenflow/cmd/tokenflow/cmd"

func main() {
	cmd.Execute()
}
