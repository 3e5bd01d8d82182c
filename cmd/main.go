package main

import (
	"os"
	"secure-ledger/app"
)

func main() {
	os.Exit(app.Run())
}
