package parser

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// TextParser handles plain text files. Lines are kept; runs of blank lines
// collapse to one.
type TextParser struct{}

func (p *TextParser) Parse(_ context.Context, r io.Reader, _ string) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	blank := false
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if strings.TrimSpace(line) == "" {
			blank = out.Len() > 0
			continue
		}
		if out.Len() > 0 {
			out.WriteByte('\n')
			if blank {
				out.WriteByte('\n')
			}
		}
		blank = false
		out.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return out.String(), nil
}
