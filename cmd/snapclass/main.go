// The snapclass command trains and runs a small on-device image classifier
// on top of a frozen embedding model.
package main

import (
	"os"

	"github.com/edaniels/golog"

	"github.com/snapclass/snapclass/cli"
)

func main() {
	logger := golog.NewDevelopmentLogger("snapclass")
	if err := cli.NewApp(logger).Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}
