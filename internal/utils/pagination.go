package utils

import "strconv"

// ParsePage reads page and page size query values, falling back to the
// defaults on anything unparsable.
func ParsePage(pageValue, sizeValue string, defaultSize int) (int, int) {
	page, err := strconv.Atoi(pageValue)
	if err != nil || page < 1 {
		page = 1
	}
	size, err := strconv.Atoi(sizeValue)
	if err != nil || size < 1 {
		size = defaultSize
	}
	return page, size
}
