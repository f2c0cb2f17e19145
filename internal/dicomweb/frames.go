package dicomweb

import (
	"strconv"
	"strings"
)

// ParseFrameNumbers turns "1, 3,abc,0,3" into [1 3 3]. Tokens that are not
// positive integers are dropped; order and repeats are kept.
func ParseFrameNumbers(spec string) []int {
	frames := []int{}
	if strings.TrimSpace(spec) == "" {
		return frames
	}
	for _, tok := range strings.Split(spec, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil || n <= 0 {
			continue
		}
		frames = append(frames, n)
	}
	return frames
}
