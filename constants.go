package main

import (
	"fmt"

	"meshbridge.dev/bridge/config"
)

// Print a figlet "meshbridge" banner.
// figlet -f small meshbridge | sed -e 's/\\/\\\\/g' -e 's/.*/fmt.Println("&")/'
func printBanner() {
	fmt.Println("                  _    _        _    _          ")
	fmt.Println("   _ __  ___ ___ | |_ | |__ _ _(_)__| |__ _ ___ ")
	fmt.Println("  | '  \\/ -_|_-< | ' \\| '_ \\ '_| / _` / _` / -_)")
	fmt.Println("  |_|_|_\\___/__/ |_||_|_.__/_| |_\\__,_\\__, \\___|")
	fmt.Println("                                      |___/     ")
	fmt.Println()
}

func printVersion() {
	fmt.Printf("   %s (%s) %s\n", config.Version.Package, config.Version.Revision, config.Version.GoVersion)
	fmt.Println()
}

// termclear clears the terminal for easier development with watchers
func termclear() {
	fmt.Print("\033[H\033[2J")
}
