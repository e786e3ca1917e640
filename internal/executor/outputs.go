package executor

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// parseOutputs reads the step outputs file. Each line is key=value; a value
// spanning several lines is written as key<<DELIM, the lines, then DELIM.
func parseOutputs(r io.Reader) (map[string]string, error) {
	outputs := make(map[string]string)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if key, delim, ok := strings.Cut(line, "<<"); ok && !strings.Contains(key, "=") {
			key, delim = strings.TrimSpace(key), strings.TrimSpace(delim)
			if key == "" || delim == "" {
				return nil, fmt.Errorf("outputs line %d: malformed heredoc %q", lineNum, line)
			}
			var lines []string
			closed := false
			for scanner.Scan() {
				lineNum++
				l := strings.TrimRight(scanner.Text(), "\r")
				if l == delim {
					closed = true
					break
				}
				lines = append(lines, l)
			}
			if !closed {
				return nil, fmt.Errorf("outputs line %d: %q is never closed by %q", lineNum, key, delim)
			}
			outputs[key] = strings.Join(lines, "\n")
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("outputs line %d: expected key=value, got %q", lineNum, line)
		}
		outputs[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return outputs, nil
}
