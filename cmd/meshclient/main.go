package main

import "github.com/mossy-p/mesh-signaling/cmd/meshclient/cmd"

func main() {
	cmd.Execute()
}
