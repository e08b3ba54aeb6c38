package main

import (
	"fmt"
	"os/exec"
	"runtime"
)

// browserNavigator opens URLs in the system browser.
type browserNavigator struct{}

func (browserNavigator) Open(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("[imhotep browser] open %s yourself: %w", url, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
