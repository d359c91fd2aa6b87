// Package sizefmt formats byte counts for display and aggregates node sizes.
package sizefmt

import (
	"math"
	"strconv"

	"github.com/dalemusser/codestrata/internal/domain/models"
)

var units = []string{"Bytes", "KB", "MB", "GB", "TB"}

// Format renders a byte count using binary (1024) units, rounded to two
// decimals. Zero and malformed (negative) input render as "0 Bytes".
func Format(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(units) {
		i = len(units) - 1
	}
	v := math.Round(float64(bytes)/math.Pow(1024, float64(i))*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + units[i]
}

// Total sums the sizes of every file node in the slice. Folder rows carry
// size 0 at creation (a root's size is stamped separately after import),
// so counting only files avoids double-counting stamped folders.
func Total(nodes []models.Node) int64 {
	var total int64
	for i := range nodes {
		if nodes[i].Type == models.TypeFile {
			total += nodes[i].Size
		}
	}
	return total
}
