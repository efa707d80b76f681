//go:build !linux && !darwin

package steps

// freeSpace is unknown on this platform.
func freeSpace(string) (int64, error) {
	return -1, nil
}
