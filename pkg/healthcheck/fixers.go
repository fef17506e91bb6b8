package healthcheck

import (
	"context"
	"fmt"
	"os"
)

// Fixer is a function that will be called to attempt to fix a failing check. It
// returns an optional message to present to the user, and error in case the fix
// failed.
type Fixer func(ctx context.Context) (msg string, err error)

// DirExistsFixer returns a Fixer, a method which when executed will create a directory and
// any parent directories as appropriate.
func DirExistsFixer(path string) Fixer {
	return func(context.Context) (string, error) {
		if err := os.MkdirAll(path, os.ModePerm); err != nil {
			return "directory not created successfully.", err
		}
		return "directory created successfully.", nil
	}
}

// And returns a Fixer that runs every fixer in turn, stopping at the first error.
func And(fixers ...Fixer) Fixer {
	return func(ctx context.Context) (string, error) {
		for _, fxr := range fixers {
			msg, err := fxr(ctx)
			if err != nil {
				return msg, err
			}
		}
		return "all fixes mitigated.", nil
	}
}

// Or returns a Fixer that stops at the first fixer to succeed. An error is returned if
// every fixer fails.
func Or(fixers ...Fixer) Fixer {
	return func(ctx context.Context) (string, error) {
		for _, fxr := range fixers {
			msg, err := fxr(ctx)
			if err == nil {
				return msg, nil
			}
		}
		return "all fixes failed.", fmt.Errorf("all fixes failed")
	}
}
