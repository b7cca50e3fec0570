package prometheus

import "strconv"

// uintLabel renders a VM id as a Prometheus label value.
func uintLabel(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
