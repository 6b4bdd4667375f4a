//go:build !linux

package async

import "errors"

func pinThread(int) error {
	return errors.New("async: thread affinity unsupported on this platform")
}
