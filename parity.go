package serial

import (
	gobug "go.bug.st/serial"
)

type Parity gobug.Parity

func (pa Parity) Get() gobug.Parity {
	return gobug.Parity(pa)
}

// String returns the single letter used in "8N1" style notation.
func (pa Parity) String() string {
	switch pa {
	case ParityNone:
		return "N"
	case ParityOdd:
		return "O"
	case ParityEven:
		return "E"
	case ParityMark:
		return "M"
	case ParitySpace:
		return "S"
	}
	return "?"
}

const (
	// ParityNone represents no parity bit
	ParityNone = Parity(gobug.NoParity)
	// ParityOdd represents odd parity bit
	ParityOdd = Parity(gobug.OddParity)
	// ParityEven represents even parity bit
	ParityEven = Parity(gobug.EvenParity)
	// ParityMark represents mark parity bit (always 1)
	ParityMark = Parity(gobug.MarkParity)
	// ParitySpace represents space parity bit (always 0)
	ParitySpace = Parity(gobug.SpaceParity)
)

// ParseParity accepts N, O, E, M or S in either case.
func ParseParity(s string) (Parity, bool) {
	switch s {
	case "N", "n":
		return ParityNone, true
	case "O", "o":
		return ParityOdd, true
	case "E", "e":
		return ParityEven, true
	case "M", "m":
		return ParityMark, true
	case "S", "s":
		return ParitySpace, true
	}
	return ParityNone, false
}
