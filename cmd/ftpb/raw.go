package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/prife/ftpbridge/wire"
)

const rawQuietPeriod = 250 * time.Millisecond

var rawSuggestions = []prompt.Suggest{
	{Text: wire.CmdList, Description: "LIST <user>"},
	{Text: wire.CmdDownloadFrom, Description: "DOWNLOAD_FROM <user> <name>"},
	{Text: wire.CmdDownloadAllFrom, Description: "DOWNLOAD_ALL_FROM <user>"},
	{Text: wire.CmdDeleteFrom, Description: "DELETE_FROM <user> <name>"},
	{Text: wire.CmdQuit, Description: "end the session"},
	{Text: "exit", Description: "leave this prompt"},
}

func rawCompleter(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(rawSuggestions, d.GetWordBeforeCursor(), true)
}

// runRaw reads command lines and sends each on a new session, printing
// whatever the server answers until it goes quiet. Payload exchanges that
// need READY or NEXT from the client are not driven, so their first reply is
// all that is shown.
func runRaw(address string, timeout time.Duration) error {
	fmt.Println("using server", address)
	infoColor.Println("one command per session, upload commands are not supported here")

	p := prompt.New(
		func(line string) {
			line = strings.TrimSpace(line)
			if line == "" {
				return
			}
			if line == "exit" {
				return
			}
			if err := doCommand(address, timeout, line); err != nil {
				failColor.Println("error:", err)
			}
		},
		rawCompleter,
		prompt.OptionTitle("ftpb raw"),
		prompt.OptionPrefix("> "),
		prompt.OptionPrefixTextColor(prompt.Green),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && strings.TrimSpace(in) == "exit"
		}),
	)
	p.Run()
	return nil
}

func doCommand(address string, timeout time.Duration, line string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := wire.Dial(ctx, address, wire.Options{ReadTimeout: timeout, WriteTimeout: timeout})
	if err != nil {
		return err
	}
	defer conn.Close()

	banner, err := conn.ReadLine()
	if err != nil {
		return err
	}
	fmt.Printf("< %s\n", banner)

	if err := conn.WriteLine(line); err != nil {
		return err
	}
	resp, err := conn.ReadLine()
	if err != nil {
		return err
	}
	fmt.Printf("< %s\n", resp)
	// multi-line replies such as listings
	for {
		more, err := conn.ReadLineWithin(rawQuietPeriod)
		if err != nil {
			break
		}
		fmt.Printf("< %s\n", more)
	}

	if !strings.HasPrefix(line, wire.CmdQuit) {
		conn.WriteLine(wire.CmdQuit)
		conn.ReadLineWithin(rawQuietPeriod)
	}
	return nil
}
