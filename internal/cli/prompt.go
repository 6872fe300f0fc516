package cli

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// PromptForTileIDs asks which tiles to enhance. The answer is a list of IDs
// separated by spaces or commas, "all", or empty for none. IDs outside
// 1..count are rejected.
func PromptForTileIDs(r io.Reader, w io.Writer, count int) ([]int, error) {
	fmt.Fprintf(w, "Tiles to enhance (1-%d, \"all\", or empty for none): ", count)

	input, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return ParseTileIDs(input, count)
}

// ParseTileIDs parses the answer format accepted by PromptForTileIDs. The
// result is sorted and free of duplicates.
func ParseTileIDs(input string, count int) ([]int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	if strings.EqualFold(input, "all") {
		ids := make([]int, count)
		for i := range ids {
			ids[i] = i + 1
		}
		return ids, nil
	}

	seen := make(map[int]bool)
	var ids []int
	for _, field := range strings.FieldsFunc(input, func(r rune) bool { return r == ',' || r == ' ' }) {
		id, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid tile ID %q", field)
		}
		if id < 1 || id > count {
			return nil, fmt.Errorf("tile ID %d out of range 1-%d", id, count)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}
