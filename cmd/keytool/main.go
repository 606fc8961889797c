package main

import (
	"errors"
	"log"
	"os"

	"github.com/dmitrijs2005/walletkeeper/internal/keytool"
)

func main() {

	app := keytool.NewApp(os.Stdin, os.Stdout, int(os.Stdin.Fd()))

	if err := app.Run(os.Args[1:]); err != nil {
		if errors.Is(err, keytool.ErrUsage) {
			os.Exit(2)
		}
		log.Fatalf("%v", err)
	}

}
