package probe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandClient runs an external speedtest CLI (speedtest-cli --simple style)
// and parses lines of the form "Ping: 12.3 ms".
type CommandClient struct {
	Path string
	Args []string
}

func NewCommandClient(command string) (*CommandClient, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("probe command is empty")
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return nil, fmt.Errorf("command line interface %q cannot be found: %w", fields[0], err)
	}
	return &CommandClient{Path: path, Args: fields[1:]}, nil
}

func (c *CommandClient) Run(ctx context.Context) (Measurement, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	out, err := cmd.Output()
	m := ParseSimple(out)
	if err != nil {
		if ctx.Err() != nil {
			return m, ctx.Err()
		}
		// Partial output still counts; the record will be marked failed
		// through the missing metrics.
		if m.Ping == nil && m.Download == nil && m.Upload == nil {
			return m, fmt.Errorf("run %s: %w", c.Path, err)
		}
	}
	return m, nil
}

// ParseSimple extracts metrics from "--simple" output. Unparseable lines are
// ignored, so a truncated run yields a partial measurement.
func ParseSimple(out []byte) Measurement {
	var m Measurement
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 3 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(fields[0], "Ping"):
			m.Ping = &v
		case strings.HasPrefix(fields[0], "Download"):
			m.Download = &v
		case strings.HasPrefix(fields[0], "Upload"):
			m.Upload = &v
		}
	}
	return m
}
