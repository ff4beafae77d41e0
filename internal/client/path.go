package client

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Step is one unit move on the grid.
type Step struct{ DX, DY int }

var directions = map[string]Step{
	"u": {0, -1}, "up": {0, -1},
	"d": {0, 1}, "down": {0, 1},
	"l": {-1, 0}, "left": {-1, 0},
	"r": {1, 0}, "right": {1, 0},
}

// ParsePath reads a comma separated list of directions such as "r,r,down,l".
func ParsePath(s string) ([]Step, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []Step
	for _, part := range strings.Split(s, ",") {
		st, ok := directions[strings.ToLower(strings.TrimSpace(part))]
		if !ok {
			return nil, fmt.Errorf("unknown direction %q", part)
		}
		out = append(out, st)
	}
	return out, nil
}

// Walk applies steps one per interval until done or ctx ends.
func (c *Client) Walk(ctx context.Context, steps []Step, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for _, st := range steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		pos, err := c.Move(st.DX, st.DY)
		if err != nil {
			return err
		}
		c.log().Info().Int("x", pos.X).Int("y", pos.Y).Msg("moved")
	}
	return nil
}
