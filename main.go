package main

import (
	"github.com/overmindtech/decommission/cmd"
)

func main() {
	cmd.Execute()
}
