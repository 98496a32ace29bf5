package mac

import (
	"bytes"
	"testing"
)

func newTestFrame(size int) *TxFrame {
	f := &TxFrame{}
	f.Init(make([]byte, size))
	return f
}

func TestParseExtAddress(t *testing.T) {
	ext, err := ParseExtAddress("01:02:03:04:05:06:07:08")
	if err != nil {
		t.Fatalf("ParseExtAddress failed: %v", err)
	}
	want := ExtAddress{1, 2, 3, 4, 5, 6, 7, 8}
	if ext != want {
		t.Errorf("ext = %v, want %v", ext, want)
	}
	if ext.String() != "0102030405060708" {
		t.Errorf("String() = %s", ext.String())
	}

	if _, err := ParseExtAddress("0102"); err == nil {
		t.Errorf("expected error for short address")
	}
	if _, err := ParseExtAddress("zz02030405060708"); err == nil {
		t.Errorf("expected error for non-hex address")
	}
}

func TestBuildData(t *testing.T) {
	src := ExtAddress{0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17}
	dst := ExtAddress{0x20, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27}

	tests := []struct {
		name    string
		header  DataHeader
		payload []byte
		wantLen int
	}{
		{
			name: "Extended unicast with ack",
			header: DataHeader{
				Sequence:   42,
				DstPanID:   0xface,
				Dst:        NewExtAddress(dst),
				Src:        NewExtAddress(src),
				AckRequest: true,
			},
			payload: []byte{0xAA, 0xBB},
			wantLen: 2 + 1 + 2 + 8 + 8 + 2,
		},
		{
			name: "Short broadcast",
			header: DataHeader{
				Sequence: 7,
				DstPanID: 0xface,
				Dst:      NewShortAddress(ShortAddrBroadcast),
				Src:      NewExtAddress(src),
			},
			payload: []byte{0x01},
			wantLen: 2 + 1 + 2 + 2 + 8 + 1,
		},
		{
			name: "Source only",
			header: DataHeader{
				Sequence: 1,
				DstPanID: 0x1234,
				Src:      NewShortAddress(0x0400),
			},
			payload: nil,
			wantLen: 2 + 1 + 2 + 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFrame(127)
			if err := f.BuildData(tt.header, tt.payload); err != nil {
				t.Fatalf("BuildData failed: %v", err)
			}

			if f.Length() != tt.wantLen {
				t.Errorf("Length = %d, want %d", f.Length(), tt.wantLen)
			}
			if f.Type() != FcfTypeData {
				t.Errorf("Type = %d, want data", f.Type())
			}
			if f.Sequence() != tt.header.Sequence {
				t.Errorf("Sequence = %d, want %d", f.Sequence(), tt.header.Sequence)
			}
			if f.AckRequest() != tt.header.AckRequest {
				t.Errorf("AckRequest = %t, want %t", f.AckRequest(), tt.header.AckRequest)
			}

			gotDst, err := f.DstAddr()
			if err != nil {
				t.Fatalf("DstAddr failed: %v", err)
			}
			if gotDst != tt.header.Dst {
				t.Errorf("DstAddr = %s, want %s", gotDst, tt.header.Dst)
			}

			gotSrc, err := f.SrcAddr()
			if err != nil {
				t.Fatalf("SrcAddr failed: %v", err)
			}
			if gotSrc != tt.header.Src {
				t.Errorf("SrcAddr = %s, want %s", gotSrc, tt.header.Src)
			}

			if !tt.header.Dst.IsNone() {
				pan, err := f.DstPanID()
				if err != nil {
					t.Fatalf("DstPanID failed: %v", err)
				}
				if pan != tt.header.DstPanID {
					t.Errorf("DstPanID = %#x, want %#x", pan, tt.header.DstPanID)
				}
			} else if _, err := f.DstPanID(); err != ErrNoAddress {
				t.Errorf("DstPanID error = %v, want ErrNoAddress", err)
			}

			payload, err := f.Payload()
			if err != nil {
				t.Fatalf("Payload failed: %v", err)
			}
			if !bytes.Equal(payload, tt.payload) {
				t.Errorf("Payload = %x, want %x", payload, tt.payload)
			}
		})
	}
}

func TestBuildData_ExtAddressReversed(t *testing.T) {
	dst := ExtAddress{1, 2, 3, 4, 5, 6, 7, 8}
	f := newTestFrame(127)
	err := f.BuildData(DataHeader{DstPanID: 1, Dst: NewExtAddress(dst)}, nil)
	if err != nil {
		t.Fatalf("BuildData failed: %v", err)
	}

	// FCF(2) + seq(1) + PAN(2)
	onAir := f.Psdu()[5:13]
	want := []byte{8, 7, 6, 5, 4, 3, 2, 1}
	if !bytes.Equal(onAir, want) {
		t.Errorf("on-air address = %v, want %v", onAir, want)
	}
}

func TestBuildData_TooLong(t *testing.T) {
	f := newTestFrame(10)
	err := f.BuildData(DataHeader{Dst: NewShortAddress(1)}, make([]byte, 10))
	if err != ErrFrameTooLong {
		t.Errorf("err = %v, want ErrFrameTooLong", err)
	}
}

func TestFrame_SetPsdu(t *testing.T) {
	f := newTestFrame(4)
	if err := f.SetPsdu([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SetPsdu failed: %v", err)
	}
	if f.Length() != 3 || f.IsEmpty() || f.Capacity() != 4 {
		t.Errorf("Length = %d, IsEmpty = %t, Capacity = %d", f.Length(), f.IsEmpty(), f.Capacity())
	}
	if err := f.SetPsdu(make([]byte, 5)); err != ErrFrameTooLong {
		t.Errorf("err = %v, want ErrFrameTooLong", err)
	}
	if err := f.SetLength(5); err != ErrFrameTooLong {
		t.Errorf("SetLength err = %v, want ErrFrameTooLong", err)
	}
}

func TestFrame_Truncated(t *testing.T) {
	f := newTestFrame(127)
	// FCF claims extended destination but the frame ends after the sequence number
	f.SetPsdu([]byte{0x61, 0x0c, 0x01})
	if _, err := f.DstAddr(); err != ErrFrameTooShort {
		t.Errorf("err = %v, want ErrFrameTooShort", err)
	}
}

func TestWriteAckFrame(t *testing.T) {
	tests := []struct {
		name    string
		seq     uint8
		pending bool
		want    []byte
	}{
		{"No frame pending", 0x33, false, []byte{0x02, 0x00, 0x33}},
		{"Frame pending", 0x34, true, []byte{0x12, 0x00, 0x34}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, AckFrameSize)
			n, err := WriteAckFrame(buf, tt.seq, tt.pending)
			if err != nil {
				t.Fatalf("WriteAckFrame failed: %v", err)
			}
			if n != AckFrameSize {
				t.Errorf("n = %d, want %d", n, AckFrameSize)
			}
			if !bytes.Equal(buf, tt.want) {
				t.Errorf("ack = %x, want %x", buf, tt.want)
			}

			f := newTestFrame(AckFrameSize)
			f.SetPsdu(buf)
			if f.Type() != FcfTypeAck || f.FramePending() != tt.pending || f.Sequence() != tt.seq {
				t.Errorf("parsed ack: type %d, pending %t, seq %d", f.Type(), f.FramePending(), f.Sequence())
			}
		})
	}

	if _, err := WriteAckFrame(make([]byte, 2), 0, false); err != ErrBufferTooSmall {
		t.Errorf("err = %v, want ErrBufferTooSmall", err)
	}
}
