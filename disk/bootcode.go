package disk

import "encoding/hex"

// Leading bytes of the stock boot sectors; enough for an image to be
// recognised as bootable media of that family.
var (
	bootDOS33  = mustHex("01a527c909d018a52b4a4a4a4a09c0853fa95c853e18adfe086dff088dfe08ae")
	bootProDOS = mustHex("0138b0034c32a18643c903088a29704a4a4a4a09c08549a0ff844828c8b148d0")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func bootSector(code []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, code)
	return out
}
