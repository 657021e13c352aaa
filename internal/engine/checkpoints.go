package engine

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Checkpoint is a known block the wallet never scans below.
type Checkpoint struct {
	Height int64
	Hash   string
	Time   time.Time
}

// ParseCheckpoints reads "height hash [unixtime]" lines. Blank lines and
// lines starting with # are skipped. The result is sorted by height.
func ParseCheckpoints(r io.Reader) ([]Checkpoint, error) {
	var cps []Checkpoint

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("checkpoint line %d: want 2 or 3 fields, got %d", line, len(fields))
		}
		height, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil || height < 0 {
			return nil, fmt.Errorf("checkpoint line %d: bad height %q", line, fields[0])
		}
		if len(fields[1]) != 64 {
			return nil, fmt.Errorf("checkpoint line %d: bad block hash %q", line, fields[1])
		}
		cp := Checkpoint{Height: height, Hash: strings.ToLower(fields[1])}
		if len(fields) == 3 {
			unix, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("checkpoint line %d: bad time %q", line, fields[2])
			}
			cp.Time = time.Unix(unix, 0)
		}
		cps = append(cps, cp)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read checkpoints: %w", err)
	}

	sort.Slice(cps, func(i, j int) bool { return cps[i].Height < cps[j].Height })
	return cps, nil
}

// Latest returns the highest checkpoint, or the zero Checkpoint.
func Latest(cps []Checkpoint) Checkpoint {
	if len(cps) == 0 {
		return Checkpoint{}
	}
	return cps[len(cps)-1]
}
