package main

import "github.com/CraigKelly/ptgibbs/cmd"

// TODO: accept Healpix input by projecting each group onto a local flat patch

func main() {
	cmd.Execute()
}
