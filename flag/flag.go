package flag

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var sizeShifts = map[string]uint{"": 0, "k": 10, "m": 20, "g": 30}

// ParseSize parses s as number[gGmMkK]. Without a suffix the number is in
// unit. The number may carry a base prefix such as 0x.
func ParseSize(s, unit string) (int, error) {
	num := strings.TrimRight(s, "gGmMkK")
	if num == "" {
		return -1, fmt.Errorf("%q:can't parse as num[gGmMkK]:%w", s, strconv.ErrSyntax)
	}

	if suffix := s[len(num):]; suffix != "" {
		unit = suffix
	}

	shift, ok := sizeShifts[strings.ToLower(unit)]
	if !ok {
		return -1, fmt.Errorf("%q: unknown unit %q:%w", s, unit, strconv.ErrSyntax)
	}

	amt, err := strconv.ParseUint(num, 0, 64)
	if err != nil {
		return -1, err
	}

	if amt > math.MaxInt>>shift {
		return -1, fmt.Errorf("%q:%w", s, strconv.ErrRange)
	}

	return int(amt) << shift, nil
}
