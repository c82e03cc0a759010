// hearthd bridges Home Assistant voice satellites to the Gemini Live
// API: Wyoming audio in, model speech out, tool calls routed to the
// Home Assistant REST API.
package main

import (
	"os"

	"github.com/hearthware/go-hearth/internal/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}
