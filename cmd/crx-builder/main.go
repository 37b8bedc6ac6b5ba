package main

import "github.com/oshokin/crx-builder/cmd/crx-builder/cmd"

func main() {
	cmd.Execute()
}
