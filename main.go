// The main package for the notepipe executable.
package main

import (
	"github.com/SF-300/vigilant-disco/cmd"
)

func main() {
	cmd.Execute()
}
