package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/mattjoyce/illthorn/internal/game"
	"github.com/mattjoyce/illthorn/internal/parser"
)

// parseOutput is what the parse command prints for one chunk.
type parseOutput struct {
	Chunk     int           `json:"chunk"`
	CleanText string        `json:"clean_text,omitempty"`
	Tags      []parser.Tag  `json:"tags"`
	Updates   []game.Update `json:"updates,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// runParse feeds a capture through the parser in fixed-size chunks, the way
// a socket would deliver it, and prints one JSON object per chunk that
// produced records.
func runParse(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	chunkSize := fs.Int("chunk-size", 1024, "bytes per parse call")
	maxPending := fs.Int("max-pending", 0, "pending tag cap in bytes (0 = unbounded)")
	withState := fs.Bool("state", false, "print the final game state after the records")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *chunkSize <= 0 {
		return fmt.Errorf("chunk-size must be positive")
	}

	in := stdin
	if path := fs.Arg(0); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open capture: %w", err)
		}
		defer f.Close()
		in = f
	}

	p := parser.New(parser.WithMaxPending(*maxPending))
	state := game.NewState()
	enc := json.NewEncoder(stdout)

	emit := func(n int, res parser.Result, perr error) error {
		if len(res.Tags) == 0 && res.CleanText == "" && perr == nil {
			return nil
		}
		out := parseOutput{Chunk: n, CleanText: res.CleanText, Tags: res.Tags, Updates: state.Apply(res.Tags)}
		if perr != nil {
			out.Error = perr.Error()
		}
		return enc.Encode(out)
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read capture: %w", err)
	}
	n := 0
	for start := 0; start < len(data); {
		end := min(start+*chunkSize, len(data))
		// Keep multi-byte characters whole.
		for end < len(data) && !utf8.RuneStart(data[end]) {
			end++
		}
		n++
		res, perr := p.Parse(string(data[start:end]))
		if err := emit(n, res, perr); err != nil {
			return err
		}
		start = end
	}
	if err := emit(n+1, p.Flush(), nil); err != nil {
		return err
	}

	if *withState {
		return enc.Encode(state)
	}
	return nil
}
