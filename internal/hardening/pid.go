package hardening

import "os"

func currentPID() int {
	return os.Getpid()
}
