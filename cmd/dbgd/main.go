// Command dbgd launches the debugger core's DAP server, attached to a
// goja JavaScript runtime, over stdio.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logrus.WithError(err).Error("dbgd: fatal error")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
