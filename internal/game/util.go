package game

import "strconv"

func itoa32(v int32) string { return strconv.FormatInt(int64(v), 10) }
func utoa32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }
func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
func btoa(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
