// Package humanize formats byte counts for "N freed" lines in
// `fingertip cleanup` output.
package humanize

import (
	"fmt"
)

// Binary formats b bytes using IEC (base-1024) units.
func Binary(b int64) string {
	return format(b, 1024, []string{"B", "kiB", "MiB", "GiB", "TiB", "PiB", "EiB", "ZiB", "YiB"})
}

// Decimal formats b bytes using SI (base-1000) units.
func Decimal(b int64) string {
	return format(b, 1000, []string{"B", "kB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"})
}

func format(b int64, base float64, units []string) string {
	n := float64(b)
	for i, unit := range units {
		if n < base || i == len(units)-1 {
			val := fmt.Sprintf("%.2f%s", n, unit)
			if val == "0.00B" {
				return "0B"
			}
			return val
		}
		n /= base
	}
	return "a lot"
}
