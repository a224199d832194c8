package drivers

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

const gpioBitmapLength = 4

const (
	GpiMuteButton   uint8 = 0
	GpiActionButton uint8 = 1
)

// GpioBitmap holds one bit per GPI pin. Buttons are active low: 0 is pressed.
type GpioBitmap uint32

func DecodeGpioBitmap(payload []byte) (GpioBitmap, error) {
	if len(payload) != gpioBitmapLength {
		return 0, errors.Errorf("gpio bitmap payload has %d bytes, want %d", len(payload), gpioBitmapLength)
	}
	return GpioBitmap(binary.LittleEndian.Uint32(payload)), nil
}

func (gb GpioBitmap) Level(pin uint8) bool {
	return gb&(1<<pin) != 0
}

func (gb GpioBitmap) Pressed(pin uint8) bool {
	return !gb.Level(pin)
}

func (gb GpioBitmap) MutePressed() bool {
	return gb.Pressed(GpiMuteButton)
}

func (gb GpioBitmap) SetPressed() bool {
	return gb.Pressed(GpiActionButton)
}

func (gb GpioBitmap) String() string {
	return fmt.Sprintf("0x%08X", uint32(gb))
}
