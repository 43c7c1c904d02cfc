// File: cmd/admin/main.go
// Project: Coldport
// Description: Operator console entry point
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/coldport/coldport-server/internal/admintui"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Base URL of the server's metrics/admin HTTP surface")
	flag.Parse()

	p := tea.NewProgram(admintui.New(*addr))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "admin console error: %v\n", err)
		os.Exit(1)
	}
}
