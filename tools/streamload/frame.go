package main

import (
	"bufio"
	"encoding/json"
	"io"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/marti-governor/internal/domain"
)

// frame one server-sent event. Comment lines are dropped.
type frame struct {
	id    string
	event string
	data  string
}

// snapshot decodes the frame payload and checks the weight invariants.
func (f frame) snapshot() (domain.AllocationSnapshot, error) {
	var s domain.AllocationSnapshot
	if err := json.Unmarshal([]byte(f.data), &s); err != nil {
		return s, errors.Wrap(err, "decode snapshot")
	}

	var total float64
	for agent, w := range s.Weights {
		if w < 0 || math.IsNaN(w) {
			return s, errors.Errorf("agent %s has weight %v", agent, w)
		}
		total += w
	}
	if total > 1+1e-6 {
		return s, errors.Errorf("weights sum to %v", total)
	}
	return s, nil
}

// readFrames calls fn for every complete event until r is exhausted.
func readFrames(r io.Reader, fn func(frame)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		cur  frame
		data []string
	)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			if cur.event != "" || len(data) > 0 {
				cur.data = strings.Join(data, "\n")
				fn(cur)
			}
			cur, data = frame{}, nil
		case strings.HasPrefix(line, ":"):
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "id":
				cur.id = value
			case "event":
				cur.event = value
			case "data":
				data = append(data, value)
			}
		}
	}
	return scanner.Err()
}
