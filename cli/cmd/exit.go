package cmd

import "github.com/pithecene-io/modpatch/types"

// Exit codes of the patch command.
const (
	exitSuccess             = 0
	exitError               = 1
	exitInsufficientStorage = 2
	exitNetwork             = 3
	exitCancelled           = 130
)

// exitCode maps an attempt error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	switch types.Classify(err) {
	case types.ErrorKindInsufficientStorage:
		return exitInsufficientStorage
	case types.ErrorKindNetwork:
		return exitNetwork
	case types.ErrorKindCancelled:
		return exitCancelled
	default:
		return exitError
	}
}
