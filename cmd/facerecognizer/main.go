package main

import "runtime"

func init() {
	// OpenCV's highgui must run on the main OS thread on macOS
	runtime.LockOSThread()
}

func main() {
	Execute()
}
