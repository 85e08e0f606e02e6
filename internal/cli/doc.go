// Package cli wires the whipctl cobra commands.
package cli
