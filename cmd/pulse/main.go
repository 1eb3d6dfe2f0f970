package main

import (
	"log"

	"github.com/loqui/pulse/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatalln(err)
	}
}
