package disk

import (
	"fmt"
	"strings"
)

func AsciiToPoke(b byte) byte {
	if b < 32 || b > 127 {
		b = 32
	}
	return b | 128
}

func Between(v, lo, hi uint) bool {
	return ((v >= lo) && (v <= hi))
}

func PokeToAscii(v uint, usealt bool) int {
	highbit := v & 1024

	v = v & 1023

	switch {
	case Between(v, 0, 31):
		return int((64 + (v % 32)) | highbit)
	case Between(v, 32, 63):
		return int((32 + (v % 32)) | highbit)
	case Between(v, 64, 95):
		if usealt {
			return int((128 + (v % 32)) | highbit)
		}
		return int((64 + (v % 32)) | highbit)
	case Between(v, 96, 127):
		if usealt {
			return int((96 + (v % 32)) | highbit)
		}
		return int((32 + (v % 32)) | highbit)
	case Between(v, 128, 159):
		return int((64 + (v % 32)) | highbit)
	case Between(v, 160, 191):
		return int((32 + (v % 32)) | highbit)
	case Between(v, 192, 223):
		return int((64 + (v % 32)) | highbit)
	case Between(v, 224, 255):
		return int((96 + (v % 32)) | highbit)
	}

	return int(v | highbit)
}

// getHighString decodes a space padded high-bit name field.
func getHighString(b []byte) string {
	s := make([]byte, len(b))
	for i, v := range b {
		s[i] = byte(PokeToAscii(uint(v), false))
	}
	return strings.TrimRight(string(s), " ")
}

// putHighString writes s as a high-bit name padded with 0xA0.
func putHighString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0xa0
	}
	for i := 0; i < len(s) && i < len(dst); i++ {
		dst[i] = AsciiToPoke(s[i])
	}
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

func Dump(bytes []byte) string {
	perline := 0x10
	out := ""
	ascii := ""
	for i, v := range bytes {
		if i%perline == 0 {
			if i > 0 {
				out += "  " + ascii + "\n"
			}
			ascii = ""
			out += fmt.Sprintf("%.4X:", i)
		}
		if v >= 32 && v < 128 {
			ascii += string(rune(v))
		} else {
			ascii += "."
		}
		out += fmt.Sprintf(" %.2X", v)
	}
	return out + "  " + ascii + "\n"
}
