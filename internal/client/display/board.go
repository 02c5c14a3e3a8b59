package display

import (
	"fmt"
	"strings"
)

// RenderBoard prints the server-rendered ASCII board with colored
// pieces. Uppercase pieces belong to the first seat, lowercase to the
// second, matching the position key the server stores.
func RenderBoard(asciiBoard string) {
	lines := strings.Split(asciiBoard, "\n")

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		// First and last lines carry the file letters
		isFileLine := (i == 0) || (i == len(lines)-1)

		for _, char := range line {
			switch {
			case char >= 'a' && char <= 'h' && isFileLine:
				fmt.Printf("%s%c%s", Cyan, char, Reset)
			case char >= 'A' && char <= 'Z':
				fmt.Printf("%s%c%s", Blue, char, Reset)
			case char >= 'a' && char <= 'z' && !isFileLine:
				fmt.Printf("%s%c%s", Red, char, Reset)
			case char == '.':
				fmt.Printf(".")
			case char >= '1' && char <= '8':
				fmt.Printf("%s%c%s", Cyan, char, Reset)
			case char == ' ':
				fmt.Printf(" ")
			default:
				fmt.Printf("%c", char)
			}
		}
		fmt.Println()
	}
}
