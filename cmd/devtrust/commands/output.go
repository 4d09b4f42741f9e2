package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

func info(format string, a ...any)    { color.Cyan("[i] "+format, a...) }
func warn(format string, a ...any)    { color.Yellow("[-] "+format, a...) }
func success(format string, a ...any) { color.Green("[+] "+format, a...) }

// confirmCheckCode shows the check code and asks whether the other device
// shows the same one.
func confirmCheckCode(_ context.Context, code string) bool {
	fmt.Print("Check code: ")
	color.New(color.Bold).Println(code)
	if assumeYes {
		return true
	}
	fmt.Print("Does the other device show the same code? [y/N] ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	warn("check code not confirmed")
	return false
}
