package main

import "github.com/titancorehelp-crypto/titancore-free/cmd"

func main() {
	cmd.Execute()
}
