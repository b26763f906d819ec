package main

import (
	"os"
)

func main() {
	if code := exitCode(Execute()); code != 0 {
		os.Exit(code)
	}
}
