package encoding

import (
	"regexp"
	"strconv"
)

// ProgressParser extracts the number of frames encoded so far from one line
// of encoder output.
type ProgressParser interface {
	ParseProgress(line string) (int, bool)
}

// RegexpParser reads the frame count from a capture group of Pattern.
type RegexpParser struct {
	Pattern *regexp.Regexp
	Group   int
}

// DefaultParser matches aomenc/vpxenc status lines such as
// "Pass 2/2 frame  120/119   52438B ...", taking the written-frame count.
var DefaultParser = RegexpParser{Pattern: regexp.MustCompile(`frame\s+(\d+)/(\d+)`), Group: 2}

// ParseProgress returns the value of the last match on the line.
func (p RegexpParser) ParseProgress(line string) (int, bool) {
	matches := p.Pattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return 0, false
	}
	last := matches[len(matches)-1]
	if p.Group >= len(last) {
		return 0, false
	}
	n, err := strconv.Atoi(last[p.Group])
	if err != nil {
		return 0, false
	}
	return n, true
}
