package drivers

import (
	"testing"
)

func assertBytes(t testing.TB, got, want []byte) {
	t.Helper()

	if len(got) != len(want) {
		t.Errorf("len(got) = %d len(want) = %d (got % X want % X)", len(got), len(want), got, want)
		return
	}

	for key, val := range got {
		if want[key] != val {
			t.Errorf("for byte [%d] got: 0x%02X want: 0x%02X", key, val, want[key])
		}
	}
}

func assertBools(t testing.TB, got, want bool) {
	t.Helper()

	if got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestBuildWriteFrame(t *testing.T) {
	frame, err := BuildWriteFrame(0x08, CmdGpiIndex, []byte{0x01})
	if err != nil {
		t.Fatalf("BuildWriteFrame returned err: %v", err)
	}
	assertBytes(t, frame, []byte{0x08, 0x01, 0x04, 0x01})

	frame, err = BuildWriteFrame(0x08, 0x10, nil)
	if err != nil {
		t.Fatalf("BuildWriteFrame returned err: %v", err)
	}
	assertBytes(t, frame, []byte{0x08, 0x10, 0x03})

	_, err = BuildWriteFrame(0x08, 0x10, make([]byte, maxFrameLength))
	if err == nil {
		t.Error("expected error for oversized frame")
	}

	_, err = BuildWriteFrame(0x08, 0x83, nil)
	if err == nil {
		t.Error("expected error for command with read flag")
	}
}

func TestBuildReadFrame(t *testing.T) {
	frame, err := BuildReadFrame(0x08, CmdGpiValueAll, 4)
	if err != nil {
		t.Fatalf("BuildReadFrame returned err: %v", err)
	}
	assertBytes(t, frame, []byte{0x08, 0x83, 0x05})

	_, err = BuildReadFrame(0x08, CmdGpiValueAll, maxReplyPayload+1)
	if err == nil {
		t.Error("expected error for reply length out of range")
	}
}

func TestParseReadReply(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		payload, err := ParseReadReply(0x08, CmdGpiValueAll, []byte{0x00, 0x02, 0x00, 0x00, 0x00}, 4)
		if err != nil {
			t.Fatalf("got err: %v", err)
		}
		assertBytes(t, payload, []byte{0x02, 0x00, 0x00, 0x00})
	})

	t.Run("bad status", func(t *testing.T) {
		_, err := ParseReadReply(0x08, CmdGpiValueAll, []byte{0x01, 0, 0, 0, 0}, 4)
		if !IsProtocol(err) {
			t.Fatalf("expected protocol error, got %v", err)
		}
		if IsTransport(err) {
			t.Error("protocol error reported as transport error")
		}
	})

	t.Run("short", func(t *testing.T) {
		_, err := ParseReadReply(0x08, CmdGpiValueAll, []byte{0x00, 0x01}, 4)
		if err == nil {
			t.Error("expected error for short reply")
		}
	})
}

func TestDecodeGpioBitmap(t *testing.T) {
	bitmap, err := DecodeGpioBitmap([]byte{0x02, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("got err: %v", err)
	}
	if bitmap != 0x00000002 {
		t.Errorf("got %s want 0x00000002", bitmap)
	}
	assertBools(t, bitmap.Level(GpiActionButton), true)
	assertBools(t, bitmap.MutePressed(), true)
	assertBools(t, bitmap.SetPressed(), false)

	bitmap, _ = DecodeGpioBitmap([]byte{0x78, 0x56, 0x34, 0x12})
	if bitmap != 0x12345678 {
		t.Errorf("got %s want 0x12345678", bitmap)
	}

	_, err = DecodeGpioBitmap([]byte{0x01, 0x02})
	if err == nil {
		t.Error("expected error for short payload")
	}
}

func TestGpioBitmapActiveLow(t *testing.T) {
	bitmap := GpioBitmap(0xFFFFFFFD)
	assertBools(t, bitmap.MutePressed(), false)
	assertBools(t, bitmap.SetPressed(), true)

	bitmap = GpioBitmap(0xFFFFFFFE)
	assertBools(t, bitmap.MutePressed(), true)
	assertBools(t, bitmap.SetPressed(), false)

	bitmap = GpioBitmap(0xFFFFFFFF)
	assertBools(t, bitmap.MutePressed(), false)
	assertBools(t, bitmap.SetPressed(), false)
}
