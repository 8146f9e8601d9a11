// Command csvbook is a notebook-style SQL workspace over a folder of CSV files.
package main

import (
	"os"

	"github.com/nao1215/csvbook/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
