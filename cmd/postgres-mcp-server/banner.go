package main

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

// isTTY returns true if the given file descriptor is a terminal.
func isTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// printBanner prints the ASCII art banner. When useColor is true, ANSI
// escape codes are used for a blue/cyan gradient.
func printBanner(w io.Writer, useColor bool) {
	lines := []string{
		`                                                    `,
		`   _ __   __ _       _ __ ___   ___ _ __           `,
		`  | '_ \ / _' |_____| '_ ' _ \ / __| '_ \          `,
		`  | |_) | (_| |_____| | | | | | (__| |_) |         `,
		`  | .__/ \__, |     |_| |_| |_|\___| .__/          `,
		`  |_|    |___/                     |_|             `,
		`                                                    `,
	}

	if useColor {
		colors := []string{
			"\033[1;34m", // bold blue
			"\033[1;34m", // bold blue
			"\033[1;94m", // bold bright blue
			"\033[1;36m", // bold cyan
			"\033[1;96m", // bold bright cyan
			"\033[1;37m", // bold white
			"\033[0m",    // reset (blank line)
		}
		for i, line := range lines {
			fmt.Fprintf(w, "%s%s\033[0m\n", colors[i%len(colors)], line)
		}
		return
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}
