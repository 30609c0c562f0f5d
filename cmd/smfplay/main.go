package main

import (
	"errors"
	"fmt"
	"os"

	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/zurustar/smfplay/pkg/app"
)

func main() {
	application := app.New()
	if err := application.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, app.ErrNoInput) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
