package display

import (
	"encoding/json"
	"fmt"
)

// PrettyPrintJSON prints formatted JSON
func PrettyPrintJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%sError formatting JSON: %s%s\n", Red, err.Error(), Reset)
		return
	}
	fmt.Println(string(data))
}

// Side returns a colored seat label. The first seat moves first and
// owns the uppercase pieces, the second seat the lowercase ones.
func Side(seat string) string {
	switch seat {
	case "first":
		return Blue + "first" + Reset
	case "second":
		return Red + "second" + Reset
	default:
		return seat
	}
}
