package main

import (
	"os"

	"signalfold.dev/pulse/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
