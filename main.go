// Command partsim runs partitioned discrete-event simulations; see cmd/root.go.
package main

import "github.com/partsim/partsim/cmd"

func main() {
	cmd.Execute()
}
