package main

import (
	"github.com/JakeFAU/progressrelay/cmd"
)

func main() {
	cmd.Execute()
}
