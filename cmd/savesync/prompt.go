package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	syncpkg "github.com/opensaves/savesync/internal/client/sync"
)

// terminalPrompt asks the user to resolve a conflict on the terminal. When
// stdin is not a terminal it cancels, so piped invocations never hang or
// destroy a save silently.
type terminalPrompt struct {
	in  io.Reader
	out io.Writer
}

func newTerminalPrompt(in io.Reader, out io.Writer) *terminalPrompt {
	return &terminalPrompt{in: in, out: out}
}

func (p *terminalPrompt) Resolve(ctx context.Context, c *syncpkg.ConflictCase) (syncpkg.Resolution, error) {
	if f, ok := p.in.(*os.File); ok && !isatty.IsTerminal(f.Fd()) {
		fmt.Fprintf(p.out, "%s %s: conflict needs a terminal (or --keep-local / --keep-remote)\n",
			yellow.Render("!"), c.Profile)
		return syncpkg.ResolutionCancel, nil
	}

	fmt.Fprintf(p.out, "\n%s both sides of %s changed since the last sync:\n",
		red.Render("conflict:"), bold.Render(c.Profile))
	fmt.Fprintf(p.out, "  %s  %s\n", cyan.Render("local "), c.LocalSummary)
	fmt.Fprintf(p.out, "  %s  %s\n", cyan.Render("remote"), c.RemoteSummary)
	fmt.Fprintf(p.out, "%s\n", gray.Render("both sides are backed up before anything is overwritten"))

	scanner := bufio.NewScanner(p.in)
	for {
		fmt.Fprintf(p.out, "keep [l]ocal, keep [r]emote, or [c]ancel? ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return syncpkg.ResolutionCancel, err
			}
			return syncpkg.ResolutionCancel, nil
		}

		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "l", "local":
			return syncpkg.ResolutionKeepLocal, nil
		case "r", "remote":
			return syncpkg.ResolutionKeepRemote, nil
		case "c", "cancel", "":
			return syncpkg.ResolutionCancel, nil
		}
	}
}
