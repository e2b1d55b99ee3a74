package ollama

import "fmt"

var sizeUnits = []string{"byte", "kb", "mb", "gb"}

// HumanSize renders a byte count with 1024 steps and two decimals, for
// example "1.49 mb". Units above gb stay in gb.
func HumanSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	size := float64(bytes)
	unit := 0
	for size >= 1024 && unit < len(sizeUnits)-1 {
		size /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", size, sizeUnits[unit])
}
