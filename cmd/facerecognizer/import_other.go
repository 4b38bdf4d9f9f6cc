//go:build !darwin

package main

import "errors"

func importONNX(string) error {
	return errors.New("go-metal import is only available on macOS")
}
