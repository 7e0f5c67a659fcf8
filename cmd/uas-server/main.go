// Command uas-server runs the UAS HTTP server: model runtime access, the
// streaming relay, the WebSocket hub and the proxy gateway.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}
