// Package env loads .env files into the process environment before config
// is read, the same spot the teacher CLI's hand-rolled loader occupied —
// here backed by godotenv rather than a hand-written splitter.
package env

import "github.com/joho/godotenv"

// Load reads a .env file from the current working directory into the
// process environment. A missing file is not an error: the gateway runs
// fine from real environment variables alone.
func Load() {
	_ = godotenv.Load()
}
